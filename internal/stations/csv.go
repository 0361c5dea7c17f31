package stations

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

// CSVHeader is the fixed column layout of exports. Imports skip the first
// line whatever it contains.
var CSVHeader = []string{"ID", "IP", "Port", "State", "Login", "HashPassword"}

const (
	csvFields = 6
	// maxLineSize bounds one row; longer lines are discarded and counted
	// as errored.
	maxLineSize = 1 << 20
)

var errLineTooLong = fmt.Errorf("line longer than %d bytes", maxLineSize)

type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type ImportSummary struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errored int        `json:"errored"`
	Errors  []RowError `json:"errors,omitempty"`
}

type rowResult int

const (
	rowCreated rowResult = iota
	rowUpdated
)

// Import upserts stations by IP, one unit of work per row. Malformed rows
// are counted and processing continues. When ctx is cancelled the rows
// already committed stay and the summary so far is returned with ctx's
// error.
func (r *Registry) Import(ctx context.Context, rd io.Reader, actor domain.Actor) (ImportSummary, error) {
	var sum ImportSummary
	br := bufio.NewReaderSize(rd, 64*1024)

	for line := 1; ; line++ {
		text, readErr := readLine(br)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil && !errors.Is(readErr, errLineTooLong) {
			return sum, fmt.Errorf("read import: %w", readErr)
		}
		if line == 1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if readErr != nil {
			sum.fail(line, readErr.Error())
			r.metrics.ImportRow("errored")
			continue
		}

		fields, err := splitRow(text)
		if err != nil {
			sum.fail(line, err.Error())
			r.metrics.ImportRow("errored")
			continue
		}
		if len(fields) < csvFields {
			sum.Skipped++
			r.metrics.ImportRow("skipped")
			continue
		}

		res, err := r.importRow(ctx, fields, actor)
		switch {
		case err == nil && res == rowCreated:
			sum.Created++
			r.metrics.ImportRow("created")
		case err == nil:
			sum.Updated++
			r.metrics.ImportRow("updated")
		case isRowError(err):
			sum.fail(line, err.Error())
			r.metrics.ImportRow("errored")
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			sum.fail(line, "storage error")
			r.metrics.ImportRow("errored")
			slog.Error("Failed to import station row", "line", line, "error", err)
		}
	}

	slog.Info("Station import finished",
		"created", sum.Created,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"errored", sum.Errored)
	return sum, nil
}

// readLine returns the next line without its terminator. An over-long line
// is consumed in full and reported as errLineTooLong.
func readLine(br *bufio.Reader) (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			return "", err
		}
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !more {
			if tooLong {
				return "", errLineTooLong
			}
			return string(buf), nil
		}
	}
}

func (s *ImportSummary) fail(line int, reason string) {
	s.Errored++
	s.Errors = append(s.Errors, RowError{Line: line, Reason: reason})
}

func isRowError(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict)
}

func splitRow(text string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	fields, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("malformed row: %w", err)
	}
	return fields, nil
}

func parseRow(fields []string) (domain.Station, error) {
	port, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return domain.Station{}, &domain.ValidationError{Field: "port", Msg: fmt.Sprintf("not a number: %q", fields[2])}
	}
	state, err := domain.ParseState(strings.TrimSpace(fields[3]))
	if err != nil {
		return domain.Station{}, err
	}
	st := domain.Station{
		IP:         strings.TrimSpace(fields[1]),
		Port:       port,
		State:      state,
		Login:      fields[4],
		Credential: fields[5],
	}
	if err := validate(&st); err != nil {
		return domain.Station{}, err
	}
	return st, nil
}

func (r *Registry) importRow(ctx context.Context, fields []string, actor domain.Actor) (rowResult, error) {
	row, err := parseRow(fields)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()

	var res rowResult
	var before, after domain.Station
	err = r.store.RunInTx(ctx, func(q store.Queries) error {
		existing, err := q.GetStationByIP(ctx, row.IP)
		if errors.Is(err, domain.ErrNotFound) {
			row.CreatedAt, row.UpdatedAt = now, now
			_, err = q.CreateStation(ctx, row)
			res = rowCreated
			return err
		}
		if err != nil {
			return err
		}
		before, err = q.LockStation(ctx, existing.ID)
		if err != nil {
			return err
		}
		next := before
		next.Port = row.Port
		next.State = row.State
		next.Login = row.Login
		next.Credential = row.Credential
		next.UpdatedAt = now
		after, err = updateStation(ctx, q, before, next)
		res = rowUpdated
		return err
	})
	if err != nil {
		return 0, err
	}
	if res == rowUpdated {
		r.stateChanged(before, after, actor)
	}
	return res, nil
}

// Export writes every station, ordered by id, under CSVHeader.
func (r *Registry) Export(ctx context.Context, w io.Writer) error {
	list, err := r.All(ctx)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, st := range list {
		rec := []string{
			strconv.FormatInt(st.ID, 10),
			st.IP,
			strconv.Itoa(st.Port),
			string(st.State),
			st.Login,
			st.Credential,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write station %d: %w", st.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
