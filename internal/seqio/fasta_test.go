package seqio

import (
	"path/filepath"
	"testing"
)

func Test_parseFasta(t *testing.T) {
	records, err := parseFasta(`>sp|P12345 aminotransferase, mitochondrial
MKTAYIAKQr
qISFVKSHFS
>yfp_variant
madeek 10 lppg
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("parseFasta() = %d records, want 2", len(records))
	}

	if records[0].ID != "sp|P12345" {
		t.Errorf("ID = %q, want %q", records[0].ID, "sp|P12345")
	}
	if records[0].Description != "aminotransferase, mitochondrial" {
		t.Errorf("Description = %q", records[0].Description)
	}
	if records[0].Seq != "MKTAYIAKQRQISFVKSHFS" {
		t.Errorf("Seq = %q, want uppercased and joined", records[0].Seq)
	}

	if records[1].ID != "yfp_variant" {
		t.Errorf("ID = %q, want %q", records[1].ID, "yfp_variant")
	}
	if records[1].Seq != "MADEEKLPPG" {
		t.Errorf("Seq = %q, want digits and spaces stripped", records[1].Seq)
	}
}

func Test_parseFasta_empty(t *testing.T) {
	if _, err := parseFasta("no headers here\n"); err == nil {
		t.Error("parseFasta() = nil error for content without headers")
	}
}

func Test_WriteFasta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.fa")

	in := []Record{
		{ID: "alpha", Description: "test protein", Seq: "MKTAYIAKQRQISFVKSHFSRQLEERLGLI"},
		{ID: "beta", Seq: "MAD"},
	}
	if err := WriteFasta(path, in, 10); err != nil {
		t.Fatal(err)
	}

	out, err := ReadFasta(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("ReadFasta() = %d records, want 2", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Seq != in[i].Seq {
			t.Errorf("record %d = %+v, want %+v", i, out[i], in[i])
		}
	}
	if out[0].Description != "test protein" {
		t.Errorf("Description = %q, want kept", out[0].Description)
	}
}
