package cutout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/worker"
)

// MimeTypeFITS is the content type recorded on every cutout result.
const MimeTypeFITS = "application/fits"

// ObjectWriter stores a finished cutout and returns its object-store URL.
type ObjectWriter interface {
	Write(ctx context.Context, jobID string, data []byte) (string, error)
}

type gcsObjectWriter struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSObjectWriter writes cutouts under storageURL, which must be of the
// form gs://bucket or gs://bucket/prefix.
func NewGCSObjectWriter(client *storage.Client, storageURL string) (ObjectWriter, error) {
	bucket, prefix, err := parseStorageURL(storageURL)
	if err != nil {
		return nil, err
	}
	return &gcsObjectWriter{client: client, bucket: bucket, prefix: prefix}, nil
}

func parseStorageURL(storageURL string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(storageURL, "gs://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("storage URL %q must use the gs scheme", storageURL)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), nil
}

func (w *gcsObjectWriter) objectName(jobID string) string {
	name := jobID + "/cutout.fits"
	if w.prefix != "" {
		name = w.prefix + "/" + name
	}
	return name
}

func (w *gcsObjectWriter) Write(ctx context.Context, jobID string, data []byte) (string, error) {
	name := w.objectName(jobID)
	obj := w.client.Bucket(w.bucket).Object(name)
	writer := obj.NewWriter(ctx)
	writer.ContentType = MimeTypeFITS
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write cutout object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize cutout object: %w", err)
	}
	return "gs://" + w.bucket + "/" + name, nil
}

// invocation is the decoded form of a cutout dispatch payload.
type invocation struct {
	JobID      string     `json:"job_id"`
	DatasetIDs []string   `json:"dataset_ids"`
	Stencils   []*Stencil `json:"stencils"`
}

// decodeInvocation rebuilds the typed invocation from queue args. Args arrive
// either as live Go values (in-process queue) or as generic JSON maps (redis),
// so a JSON round trip normalizes both.
func decodeInvocation(args map[string]any) (*invocation, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, worker.Usage("malformed cutout arguments", err.Error())
	}
	var inv invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, worker.Usage("malformed cutout arguments", err.Error())
	}
	if len(inv.DatasetIDs) == 0 {
		return nil, worker.Usage("no dataset ids in cutout request", "")
	}
	if len(inv.Stencils) != 1 {
		return nil, worker.Usage("cutout requires exactly one stencil",
			fmt.Sprintf("got %d", len(inv.Stencils)))
	}
	return &inv, nil
}

// NewComputeFunc builds the backend computation for cutout jobs. Image access
// is stubbed: the function emits a minimal FITS file rather than resampling
// real pixels, but the full dispatch, storage, and result plumbing is live.
func NewComputeFunc(writer ObjectWriter) worker.ComputeFunc {
	return func(ctx context.Context, args map[string]any, info worker.WorkerInfo, log *logger.Logger) ([]uws.JobResult, error) {
		inv, err := decodeInvocation(args)
		if err != nil {
			return nil, err
		}
		log.Info("Performing cutout",
			"dataset_ids", inv.DatasetIDs,
			"stencil_type", inv.Stencils[0].Type)

		data := renderFITS(inv.DatasetIDs[0], inv.Stencils[0])
		url, err := writer.Write(ctx, inv.JobID, data)
		if err != nil {
			return nil, worker.Transient(uws.CodeServiceUnavailable,
				"failed to store cutout output", err.Error())
		}

		size := int64(len(data))
		return []uws.JobResult{{
			ResultID: "cutout",
			URL:      url,
			Size:     &size,
			MimeType: MimeTypeFITS,
		}}, nil
	}
}

const fitsBlockSize = 2880

// renderFITS produces a syntactically valid single-HDU FITS file describing
// the requested cutout. Real pixel extraction belongs to the image backend;
// this placeholder keeps the output contract exercisable end to end.
func renderFITS(datasetID string, stencil *Stencil) []byte {
	cards := []string{
		fitsCard("SIMPLE", "T", "conforms to FITS standard"),
		fitsCard("BITPIX", "8", "array data type"),
		fitsCard("NAXIS", "0", "number of array dimensions"),
		fitsCard("EXTEND", "T", ""),
		fitsCard("ORIGIN", fitsString("vo-cutouts"), "cutout service"),
		fitsCard("DATASET", fitsString(datasetID), "source dataset identifier"),
		fitsCard("STENCIL", fitsString(strings.ToUpper(stencil.Type)), "cutout stencil shape"),
	}
	header := strings.Join(cards, "")
	header += "END" + strings.Repeat(" ", 77)
	if pad := len(header) % fitsBlockSize; pad != 0 {
		header += strings.Repeat(" ", fitsBlockSize-pad)
	}
	return []byte(header)
}

// fitsCard formats one 80-character header card.
func fitsCard(keyword, value, comment string) string {
	card := fmt.Sprintf("%-8s= %20s", keyword, value)
	if comment != "" {
		card += " / " + comment
	}
	if len(card) > 80 {
		card = card[:80]
	}
	return card + strings.Repeat(" ", 80-len(card))
}

// fitsString quotes a FITS character value.
func fitsString(v string) string {
	v = strings.ReplaceAll(v, "'", "''")
	if len(v) > 60 {
		v = v[:60]
	}
	return fmt.Sprintf("'%s'", v)
}
