package test

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattfeng/progen/internal/checkpoint"
	"github.com/mattfeng/progen/internal/manifest"
	"github.com/mattfeng/progen/internal/model"
	"github.com/mattfeng/progen/internal/prng"
	"github.com/mattfeng/progen/internal/sample"
	"github.com/mattfeng/progen/internal/seqio"
	"github.com/mattfeng/progen/internal/token"
	"github.com/mattfeng/progen/internal/train"
)

// twelve short proteins, two of which become the validation split
const proteinsFasta = `>seq01 hypothetical protein
MKVILTAEGRALLKQWQEDNPAVIE
>seq02 uncharacterized
MALWMRLLPLLALLALWGPDPAAAFVNQHLCGSHLVEAL
>seq03
MTEYKLVVVGAGGVGKSALTIQLIQNHF
>seq04
MSDNGPQNQRNAPRITFGGPSDSTGSNQ
>seq05
mvlspadktnvkaawgkvgahageygaeale
>seq06
MKTAYIAKQRQISFVKSHFSRQLEERLGLIEVQ
>seq07
MNIFEMLRIDEGLRLKIYKDTEGYYTIGIGHLL
>seq08
MGSSHHHHHHSSGLVPRGSHMASMTGGQQMGR
>seq09
MKKLLFAIPLVVPFYSHS
>seq10
MADEEKLPPGWEKRMSRSSGRVYYFNHITNASQWERPSG
>seq11
MSKGEELFTGVVPILVELDGDVNGHKFSVSGEGEG
>seq12
MQIFVKTLTGKTITLEVEPSDTIENVKAKIQDKEGIPPD
`

func Test_PrepareTrainSample(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "train_data")
	ckptDir := filepath.Join(dir, "ckpts")
	runDir := filepath.Join(dir, "runs")
	cfgDir := filepath.Join(dir, "configs")

	fasta := filepath.Join(dir, "proteins.fa")
	require.NoError(t, os.WriteFile(fasta, []byte(proteinsFasta), 0644))

	// prepare: scan the FASTA, sanitize, encode and shard into splits
	records, err := seqio.ReadFasta(fasta)
	require.NoError(t, err)
	require.Len(t, records, 12)

	tok, err := token.New("byte")
	require.NoError(t, err)

	encoded := make([][]byte, 0, len(records))
	for _, r := range records {
		seq, serr := token.Sanitize(r.Seq, false)
		require.NoError(t, serr)
		encoded = append(encoded, tok.Encode(seq))
	}

	ds := seqio.NewDataset(dataDir, "proteins", "byte")
	require.NoError(t, ds.WriteSplit("valid", encoded[:2], 4))
	require.NoError(t, ds.WriteSplit("train", encoded[2:], 4))
	require.NoError(t, ds.Save())

	loaded, err := seqio.LoadDataset(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Count("train"))
	assert.Equal(t, 2, loaded.Count("valid"))

	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "default.toml"),
		[]byte("model = \"bigram\"\nseq_len = 32\nnum_tokens = 128\n"), 0644))

	// train two short epochs
	cfg := train.DefaultConfig()
	cfg.Seed = 7
	cfg.BatchSize = 2
	cfg.GradAccumEvery = 2
	cfg.Epochs = 2
	cfg.ValidateEvery = 2
	cfg.SampleEvery = 4
	cfg.CheckpointEvery = 2
	cfg.CheckpointPath = ckptDir
	cfg.CheckpointKeepN = 2
	cfg.ConfigPath = cfgDir
	cfg.PrimeLength = 3
	cfg.TopK = 5
	cfg.DataPath = dataDir
	cfg.TrackPath = runDir
	cfg.Project = "e2e"
	cfg.Progress = false

	var logs bytes.Buffer
	require.NoError(t, train.Run(context.Background(), cfg, log.New(&logs, "", 0)))

	assert.Contains(t, logs.String(), "==== starting epoch: 2 ====")
	assert.Contains(t, logs.String(), "loss: ")
	assert.Contains(t, logs.String(), "valid_loss: ")

	// the run ends with a checkpoint past the last training sequence:
	// three effective batches of four sequences each
	last, _, err := checkpoint.Last(ckptDir)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 12, last.NextSeqIndex)
	require.NotEmpty(t, last.RunID)

	events, err := os.ReadFile(filepath.Join(runDir, "e2e", last.RunID, "events.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(events), `"loss"`)
	assert.Contains(t, string(events), `"valid_loss"`)
	assert.Contains(t, string(events), `"final":true`)

	// sample from the checkpointed weights, deterministically
	mcfg, err := model.ParseConfig(last.ModelConfig)
	require.NoError(t, err)
	m, err := model.New(mcfg)
	require.NoError(t, err)

	prime := tok.Encode("MKV")
	opts := sample.Options{TopK: 5}
	first, err := sample.Generate(context.Background(), prng.NewSeq(7).Next(), m, last.Params, prime, mcfg.SeqLen, opts)
	require.NoError(t, err)
	second, err := sample.Generate(context.Background(), prng.NewSeq(7).Next(), m, last.Params, prime, mcfg.SeqLen, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(tok.Decode(first), "MKV"))
	assert.LessOrEqual(t, len(first), mcfg.SeqLen)

	// the saved index is past every training sequence, so resuming the
	// finished run has nothing left to do
	err = train.Run(context.Background(), cfg, log.New(&logs, "", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing left to train")
}

func Test_ManifestVerify(t *testing.T) {
	m, err := manifest.ParseFile(filepath.Join("testdata", "pyproject.toml"))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, "progen", m.Name)
	assert.Equal(t, "~3.7", m.Runtime.String())
	assert.Len(t, m.Dependencies, 22) // 21 runtime plus pytest, python folded into Runtime

	idx, err := manifest.LoadFileIndex(filepath.Join("testdata", "releases.json"))
	require.NoError(t, err)

	report, err := manifest.Check(context.Background(), m, idx)
	require.NoError(t, err)

	assert.True(t, report.Satisfied())
	assert.Empty(t, report.Problems())

	byName := make(map[string]manifest.DependencyResult, len(report.Dependencies))
	for _, d := range report.Dependencies {
		byName[d.Name] = d
	}
	assert.Equal(t, "3.20.1", byName["protobuf"].Matched)
	assert.Equal(t, "0.0.6", byName["optax"].Matched) // 0.0.9 falls outside ^0.0.6
	assert.True(t, byName["pytest"].Dev)

	require.Len(t, report.Build, 1)
	assert.Equal(t, "poetry-core", report.Build[0].Name)
	assert.True(t, report.Build[0].Satisfied)
}

func Test_ManifestVerify_Unsatisfiable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[tool.poetry]
name = "doomed"
version = "0.1.0"

[tool.poetry.dependencies]
python = "^3.8"
click = "^99"
ghost-pkg = "*"

[build-system]
requires = ["poetry-core>=1.0.0"]
build-backend = "poetry.core.masonry.api"
`), 0644))

	m, err := manifest.ParseFile(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	idx, err := manifest.LoadFileIndex(filepath.Join("testdata", "releases.json"))
	require.NoError(t, err)

	report, err := manifest.Check(context.Background(), m, idx)
	require.NoError(t, err)

	assert.False(t, report.Satisfied())

	problems := report.Problems()
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "click")
	assert.Contains(t, problems[0], "satisfy")
	assert.Contains(t, problems[1], "ghost-pkg: no releases published")
}
