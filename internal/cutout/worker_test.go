package cutout

import (
	"context"
	"strings"
	"testing"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/worker"
)

type captureWriter struct {
	jobID string
	data  []byte
}

func (w *captureWriter) Write(_ context.Context, jobID string, data []byte) (string, error) {
	w.jobID = jobID
	w.data = data
	return "gs://test-bucket/" + jobID + "/cutout.fits", nil
}

func TestComputeFunc(t *testing.T) {
	writer := &captureWriter{}
	compute := NewComputeFunc(writer)

	args := map[string]any{
		"job_id":      "42",
		"dataset_ids": []string{"band-1"},
		"stencils":    []*Stencil{{Type: StencilCircle, Center: []float64{10, 20}, Radius: 0.5}},
	}
	results, err := compute(context.Background(), args, worker.WorkerInfo{JobID: "42"}, logger.NewNop())
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	res := results[0]
	if res.ResultID != "cutout" || res.MimeType != MimeTypeFITS {
		t.Errorf("result = %+v", res)
	}
	if res.URL != "gs://test-bucket/42/cutout.fits" {
		t.Errorf("url = %q", res.URL)
	}
	if res.Size == nil || *res.Size != int64(len(writer.data)) {
		t.Errorf("size = %v, wrote %d bytes", res.Size, len(writer.data))
	}
	if writer.jobID != "42" {
		t.Errorf("wrote under job %q", writer.jobID)
	}
}

// Args that crossed redis arrive as generic JSON values, not typed slices.
func TestComputeFuncDecodesGenericArgs(t *testing.T) {
	writer := &captureWriter{}
	compute := NewComputeFunc(writer)

	args := map[string]any{
		"job_id":      "7",
		"dataset_ids": []any{"band-1", "band-2"},
		"stencils": []any{
			map[string]any{"type": "circle", "center": []any{10.0, 20.0}, "radius": 0.5},
		},
	}
	results, err := compute(context.Background(), args, worker.WorkerInfo{JobID: "7"}, logger.NewNop())
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if results[0].URL != "gs://test-bucket/7/cutout.fits" {
		t.Errorf("url = %q", results[0].URL)
	}
}

func TestComputeFuncRejectsBadArgs(t *testing.T) {
	compute := NewComputeFunc(&captureWriter{})
	cases := []map[string]any{
		{"job_id": "1", "stencils": []*Stencil{{Type: StencilCircle}}},   // no datasets
		{"job_id": "1", "dataset_ids": []string{"band-1"}},               // no stencil
		{"job_id": "1", "dataset_ids": []string{"band-1"}, "stencils": []*Stencil{{}, {}}}, // two stencils
	}
	for i, args := range cases {
		_, err := compute(context.Background(), args, worker.WorkerInfo{}, logger.NewNop())
		we, ok := err.(*worker.WorkerError)
		if !ok || we.Kind != worker.KindUsage {
			t.Errorf("case %d: err = %v, want usage WorkerError", i, err)
		}
	}
}

func TestRenderFITSBlocking(t *testing.T) {
	data := renderFITS("band-1", &Stencil{Type: StencilCircle, Center: []float64{1, 2}, Radius: 3})
	if len(data)%fitsBlockSize != 0 || len(data) == 0 {
		t.Errorf("FITS output is %d bytes, want a multiple of %d", len(data), fitsBlockSize)
	}
	header := string(data)
	if !strings.HasPrefix(header, "SIMPLE  =") {
		t.Errorf("header starts %q", header[:30])
	}
	if !strings.Contains(header, "'band-1'") {
		t.Error("dataset id not recorded in header")
	}
	if !strings.Contains(header, "END") {
		t.Error("END card missing")
	}
	// Every card is exactly 80 characters.
	for i := 0; i+80 <= len(header); i += 80 {
		if len(header[i:i+80]) != 80 {
			t.Fatalf("card %d truncated", i/80)
		}
	}
}

func TestParseStorageURL(t *testing.T) {
	bucket, prefix, err := parseStorageURL("gs://results/cutouts")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if bucket != "results" || prefix != "cutouts" {
		t.Errorf("bucket=%q prefix=%q", bucket, prefix)
	}

	bucket, prefix, err = parseStorageURL("gs://results")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if bucket != "results" || prefix != "" {
		t.Errorf("bucket=%q prefix=%q", bucket, prefix)
	}

	for _, raw := range []string{"s3://x/y", "results/cutouts", "gs://"} {
		if _, _, err := parseStorageURL(raw); err == nil {
			t.Errorf("parse(%q) succeeded", raw)
		}
	}
}
