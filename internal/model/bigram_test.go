package model

import (
	"math"
	"testing"

	"github.com/mattfeng/progen/internal/prng"
)

func bigramFixture(t *testing.T) (*Bigram, Params) {
	t.Helper()

	m, err := New(Config{Model: "bigram", SeqLen: 8, NumTokens: 4})
	if err != nil {
		t.Fatal(err)
	}
	return m.(*Bigram), m.Init(prng.NewSeq(1).Next())
}

func Test_Bigram_Init(t *testing.T) {
	m, params := bigramFixture(t)

	if params["transitions"].NDim() != 2 {
		t.Error("transitions should be rank 2, they carry the weight decay")
	}
	if params["prior"].NDim() != 1 {
		t.Error("prior should be rank 1, it is excluded from weight decay")
	}
	if got := params.NumParams(); got != 4*4+4 {
		t.Errorf("NumParams() = %d, want 20", got)
	}

	again := m.Init(prng.NewSeq(1).Next())
	for _, k := range params.SortedKeys() {
		for i := range params[k].Data {
			if params[k].Data[i] != again[k].Data[i] {
				t.Fatalf("Init() is not deterministic for a fixed seed at %s[%d]", k, i)
			}
		}
	}
}

func Test_Bigram_Loss_uniform(t *testing.T) {
	m, params := bigramFixture(t)

	// zero parameters spread probability evenly, the loss is ln(V)
	zero := params.ZerosLike()
	loss, grads, err := m.Loss(nil, zero, [][]byte{{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-12 {
		t.Errorf("loss = %v, want ln(4) = %v", loss, math.Log(4))
	}

	// gradient of one pair (1, 2): softmax minus one-hot on row 1
	for j, want := range []float64{0.25, 0.25, -0.75, 0.25} {
		if got := grads["transitions"].At(1, j); math.Abs(got-want) > 1e-12 {
			t.Errorf("grad transitions[1][%d] = %v, want %v", j, got, want)
		}
		if got := grads["prior"].Data[j]; math.Abs(got-want) > 1e-12 {
			t.Errorf("grad prior[%d] = %v, want %v", j, got, want)
		}
	}

	// untouched rows stay zero
	for j := 0; j < 4; j++ {
		if got := grads["transitions"].At(0, j); got != 0 {
			t.Errorf("grad transitions[0][%d] = %v, want 0", j, got)
		}
	}
}

func Test_Bigram_Loss_ignoresPadTargets(t *testing.T) {
	m, params := bigramFixture(t)

	batch := [][]byte{{1, 2, 0, 0}}
	loss, _, err := m.Loss(nil, params, batch)
	if err != nil {
		t.Fatal(err)
	}

	// only the (1, 2) pair counts, so the loss matches the unpadded row
	lossUnpadded, _, err := m.Loss(nil, params, [][]byte{{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-lossUnpadded) > 1e-12 {
		t.Errorf("loss with pad targets = %v, want %v", loss, lossUnpadded)
	}

	if _, _, err := m.Loss(nil, params, [][]byte{{0, 0, 0}}); err == nil {
		t.Error("Loss() = nil error for an all-pad batch")
	}
}

func Test_Bigram_Loss_gradCheck(t *testing.T) {
	m, params := bigramFixture(t)
	batch := [][]byte{{1, 2, 3}, {3, 1, 0}}

	_, grads, err := m.Loss(nil, params, batch)
	if err != nil {
		t.Fatal(err)
	}

	const eps = 1e-6
	for _, k := range params.SortedKeys() {
		for i := range params[k].Data {
			orig := params[k].Data[i]

			params[k].Data[i] = orig + eps
			lossUp, _, err := m.Loss(nil, params, batch)
			if err != nil {
				t.Fatal(err)
			}
			params[k].Data[i] = orig - eps
			lossDown, _, err := m.Loss(nil, params, batch)
			if err != nil {
				t.Fatal(err)
			}
			params[k].Data[i] = orig

			numeric := (lossUp - lossDown) / (2 * eps)
			if math.Abs(numeric-grads[k].Data[i]) > 1e-5 {
				t.Errorf("grad %s[%d] = %v, numeric %v", k, i, grads[k].Data[i], numeric)
			}
		}
	}
}

func Test_Bigram_Loss_descends(t *testing.T) {
	m, params := bigramFixture(t)
	batch := [][]byte{{1, 2, 3, 1}, {2, 3, 2, 1}}

	before, grads, err := m.Loss(nil, params, batch)
	if err != nil {
		t.Fatal(err)
	}

	grads.Scale(-0.5)
	if err := params.Add(grads); err != nil {
		t.Fatal(err)
	}

	after, _, err := m.Loss(nil, params, batch)
	if err != nil {
		t.Fatal(err)
	}
	if after >= before {
		t.Errorf("loss after a gradient step = %v, want below %v", after, before)
	}
}

func Test_Bigram_Logits(t *testing.T) {
	m, params := bigramFixture(t)

	zero := params.ZerosLike()
	zero["transitions"].Row(2)[3] = 1.25
	zero["prior"].Data[0] = 0.5

	logits, err := m.Logits(zero, []byte{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(logits) != 4 {
		t.Fatalf("Logits() = %d entries, want 4", len(logits))
	}
	if logits[3] != 1.25 {
		t.Errorf("logits[3] = %v, want 1.25", logits[3])
	}
	if logits[0] != 0.5 {
		t.Errorf("logits[0] = %v, want 0.5", logits[0])
	}

	if _, err := m.Logits(zero, nil); err == nil {
		t.Error("Logits() = nil error for an empty context")
	}
}

func Test_Bigram_outOfVocabulary(t *testing.T) {
	m, params := bigramFixture(t)

	if _, _, err := m.Loss(nil, params, [][]byte{{1, 200}}); err == nil {
		t.Error("Loss() = nil error for a token outside the vocabulary")
	}
	if _, err := m.Logits(params, []byte{200}); err == nil {
		t.Error("Logits() = nil error for a token outside the vocabulary")
	}
}

func Test_New_unknownModel(t *testing.T) {
	if _, err := New(Config{Model: "transformer", SeqLen: 8, NumTokens: 4}); err == nil {
		t.Error("New() = nil error for an unregistered model")
	}
}
