package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"expvar"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/user"
)

// Result statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const (
	rowSavepoint   = "ingest_row"
	reportCategory = "ingestion-report"
)

// ingestion counters, published on /debug/vars
var metrics = expvar.NewMap("ingest")

type (
	// Request is an uploaded file to ingest on behalf of an admin.
	Request struct {
		Filename string
		Admin    user.User
		Reader   io.Reader
	}

	// Result summarizes an ingestion. Rows are counted as read from the file.
	Result struct {
		Filename     string   `json:"filename"`
		TotalRows    int      `json:"total_rows"`
		SuccessCount int      `json:"success_count"`
		ErrorCount   int      `json:"error_count"`
		Errors       []string `json:"errors"`
		UploadLogID  null.Int `json:"upload_log_id"`
		Status       string   `json:"status"`
		// Success is set when the file was committed without any row error.
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`

		RowErrors []*RowError `json:"-"`

		startedAt time.Time
	}

	reportData struct {
		AdminName    string
		Filename     string
		Status       string
		TotalRows    int
		SuccessCount int
		ErrorCount   int
		Error        string
	}
)

func (res *Result) addRowError(err *RowError) {
	res.RowErrors = append(res.RowErrors, err)
	res.Errors = append(res.Errors, err.Error())
	res.ErrorCount++
}

// Pipeline ingests uploaded CSV files of marks.
// A file is ingested in a single transaction; every row runs in its own savepoint
// so that a rejected row leaves no trace while the others are kept.
type Pipeline struct {
	store      academics.Store
	translator ut.Translator
	resolver   *academics.Resolver
	upserter   *academics.MarkUpserter
	mailer     core.EmailService
	logger     core.Logger
	nowFunc    func() time.Time
}

// NewPipeline creates a Pipeline. mailer may be nil, in which case no report is sent.
func NewPipeline(
	store academics.Store,
	validate *validator.Validate,
	translator ut.Translator,
	mailer core.EmailService,
	logger core.Logger,
) *Pipeline {
	vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(translator, "translator"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Pipeline{
		store:      store,
		translator: translator,
		resolver:   academics.NewResolver(validate),
		upserter:   academics.NewMarkUpserter(validate),
		mailer:     mailer,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Ingest processes the rows of req. Rejected rows are recorded in the Result and never abort the ingestion.
// An unusable file is returned as a core.ValidationError before anything is written.
// A storage failure rolls everything back and is returned, with the failed Result, as an error caused by ErrPersistence.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	res := Result{Filename: req.Filename, Errors: make([]string, 0), Status: StatusFailed, startedAt: p.nowFunc().UTC()}
	parser, err := NewParser(req.Reader)
	if err != nil {
		return res, err
	}

	runID := uuid.New().String()
	metrics.Add("runs", 1)
	p.logger.Info(fmt.Sprintf("ingestion %s: processing %q for admin %d", runID, req.Filename, req.Admin.ID))

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return p.fail(ctx, req, res, runID, errors.Wrap(err, "beginning transaction"))
	}
	if err = p.processRows(ctx, tx, parser, &res); err != nil {
		_ = tx.Rollback()
		return p.fail(ctx, req, res, runID, err)
	}

	uploadLog, err := tx.CreateUploadLog(ctx, p.uploadLog(req, res, ""))
	if err != nil {
		_ = tx.Rollback()
		return p.fail(ctx, req, res, runID, errors.Wrap(err, "creating upload log"))
	}
	if err = tx.Commit(); err != nil {
		return p.fail(ctx, req, res, runID, errors.Wrap(err, "committing"))
	}

	res.UploadLogID = null.IntFrom(uploadLog.ID)
	res.Success = res.ErrorCount == 0
	if res.SuccessCount > 0 {
		res.Status = StatusSuccess
	}
	metrics.Add("rows", int64(res.TotalRows))
	metrics.Add("rows_failed", int64(res.ErrorCount))
	p.logger.Info(fmt.Sprintf(
		"ingestion %s: %q done, %d rows, %d succeeded, %d failed",
		runID, req.Filename, res.TotalRows, res.SuccessCount, res.ErrorCount,
	))

	p.sendReport(req, res, runID)
	return res, nil
}

func (p *Pipeline) processRows(ctx context.Context, tx academics.Tx, parser *Parser, res *Result) error {
	for {
		row, err := parser.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			rowErr, ok := classify(row.Line, err, p.translator)
			if !ok {
				return errors.Wrap(err, "reading file")
			}
			res.TotalRows++
			res.addRowError(rowErr)
			continue
		}
		res.TotalRows++

		if err = tx.Savepoint(ctx, rowSavepoint); err != nil {
			return errors.Wrap(err, "creating savepoint")
		}
		if err = p.processRow(ctx, tx, row); err != nil {
			rowErr, ok := classify(row.Line, err, p.translator)
			if !ok {
				return errors.Wrapf(err, "processing row %d", row.Line)
			}
			if err = tx.RollbackTo(ctx, rowSavepoint); err != nil {
				return errors.Wrap(err, "rolling back to savepoint")
			}
			res.addRowError(rowErr)
		} else {
			res.SuccessCount++
		}
		if err = tx.ReleaseSavepoint(ctx, rowSavepoint); err != nil {
			return errors.Wrap(err, "releasing savepoint")
		}
	}
}

// processRow resolves the entities referenced by row and upserts its mark.
func (p *Pipeline) processRow(ctx context.Context, tx academics.Tx, row Row) error {
	h, err := p.resolver.Resolve(ctx, tx, row.Key)
	if err != nil {
		return err
	}
	st, err := p.resolver.ResolveStudent(ctx, tx, row.Identity, h.Batch)
	if err != nil {
		return err
	}
	key := academics.MarkKey{StudentID: st.ID, SubjectID: h.Subject.ID, SemesterID: h.Semester.ID}
	_, _, err = p.upserter.Upsert(ctx, tx, key, row.Patch)
	return err
}

// fail reports a fatal failure: nothing of the file is kept, a failed upload log is recorded on a best effort basis.
func (p *Pipeline) fail(ctx context.Context, req Request, res Result, runID string, cause error) (Result, error) {
	err := errors.Wrapf(ErrPersistence, "%v", cause)
	res.SuccessCount = 0
	res.Success = false
	res.Status = StatusFailed
	res.Error = cause.Error()
	metrics.Add("failures", 1)
	p.logger.Error(fmt.Sprintf("ingestion %s: %q failed: %v", runID, req.Filename, cause), cause, req.Admin)

	if uploadLog, lerr := p.store.CreateUploadLog(ctx, p.uploadLog(req, res, res.Error)); lerr == nil {
		res.UploadLogID = null.IntFrom(uploadLog.ID)
	} else {
		p.logger.Warn(fmt.Sprintf("ingestion %s: recording failed upload: %v", runID, lerr), lerr)
	}

	p.sendReport(req, res, runID)
	return res, err
}

func (p *Pipeline) uploadLog(req Request, res Result, fatal string) academics.UploadLog {
	log := academics.UploadLog{
		AdminID:         req.Admin.ID,
		Filename:        req.Filename,
		TotalRows:       res.TotalRows,
		UploadedRecords: res.SuccessCount,
		ErrorCount:      res.ErrorCount,
		Success:         fatal == "" && res.ErrorCount == 0,
		StartedAt:       res.startedAt,
		CreatedAt:       p.nowFunc().UTC(),
	}
	msgs := res.Errors
	if fatal != "" {
		msgs = append([]string{fatal}, msgs...)
	}
	if len(msgs) > 0 {
		log.ErrorMessage = null.StringFrom(strings.Join(msgs, "; "))
	}
	return log
}

// sendReport emails the summary of the ingestion to the admin, with the rejected rows attached as errors.csv.
func (p *Pipeline) sendReport(req Request, res Result, runID string) {
	if p.mailer == nil || req.Admin.Email == "" {
		return
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: req.Admin.Name, Address: req.Admin.Email}},
		Subject:      fmt.Sprintf("Upload report: %s (%s)", req.Filename, res.Status),
		Category:     reportCategory,
		Args:         map[string]string{"run_id": runID, "filename": req.Filename},
		TemplateName: "ingestion_report",
		TemplateData: reportData{
			AdminName:    req.Admin.Name,
			Filename:     req.Filename,
			Status:       res.Status,
			TotalRows:    res.TotalRows,
			SuccessCount: res.SuccessCount,
			ErrorCount:   res.ErrorCount,
			Error:        res.Error,
		},
	}
	if len(res.RowErrors) > 0 {
		var buff bytes.Buffer
		w := csv.NewWriter(&buff)
		_ = w.Write([]string{"row", "kind", "error"})
		for _, rowErr := range res.RowErrors {
			_ = w.Write([]string{strconv.Itoa(rowErr.Row), string(rowErr.Kind), rowErr.Err.Error()})
		}
		w.Flush()
		if err := msg.Attach(&buff, "errors.csv", "text/csv"); err != nil {
			p.logger.Warn(fmt.Sprintf("attaching ingestion errors: %v", err), err)
		}
	}
	p.mailer.SendMessages(msg)
}
