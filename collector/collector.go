package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
)

// DefaultCommand is the telemetry tool invoked when none is configured.
const DefaultCommand = "nvidia-smi"

var (
	headerPattern = regexp.MustCompile(`^([^\s\[\]]+)(?:\s*\[([^\[\]]*)\])?$`)
	unitPattern   = regexp.MustCompile(`^([-+]?(?:\d+(?:\.\d*)?|\.\d+))\s+(\S.*)$`)
)

// CollectionError reports a telemetry command that could not be run or
// exited with a non-zero status.
type CollectionError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot run %s: %v", e.Command, e.Err)
	}
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Collector runs the telemetry tool and turns its CSV output into a snapshot.
type Collector struct {
	registry *fields.Registry
	command  string
	args     []string
	run      RunFunc
}

// Option configures a Collector.
type Option func(*Collector)

// WithCommand sets the telemetry executable and extra leading arguments.
func WithCommand(name string, args ...string) Option {
	return func(c *Collector) {
		if name != "" {
			c.command = name
		}
		c.args = append([]string(nil), args...)
	}
}

// WithRunner replaces the subprocess runner.
func WithRunner(run RunFunc) Option {
	return func(c *Collector) {
		c.run = run
	}
}

// New creates a Collector for the fields of registry.
func New(registry *fields.Registry, opts ...Option) *Collector {
	c := &Collector{
		registry: registry,
		command:  DefaultCommand,
		run:      ExecRunner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Args returns the full argument list passed to the telemetry command.
func (c *Collector) Args() []string {
	ids := c.registry.Queried()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}

	args := append([]string(nil), c.args...)
	return append(args, "--query-gpu="+strings.Join(names, ","), "--format=csv")
}

// Collect runs the telemetry command once and parses its output.
func (c *Collector) Collect(ctx context.Context) (*fields.Snapshot, error) {
	start := time.Now()

	out, err := c.run(ctx, c.command, c.Args()...)
	if err != nil {
		return nil, &CollectionError{Command: c.command, ExitCode: -1, Output: out.Diagnostic(), Err: err}
	}
	if out.ExitCode != 0 {
		return nil, &CollectionError{Command: c.command, ExitCode: out.ExitCode, Output: out.Diagnostic()}
	}

	snapshot, err := c.parse(out.Stdout)
	if err != nil {
		return nil, err
	}

	logger.Debug("collected %d device(s) from %s in %s", snapshot.Len(), c.command, time.Since(start))
	return snapshot, nil
}

type column struct {
	index int
	unit  string
}

func (c *Collector) parse(data []byte) (*fields.Snapshot, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &fields.ParseError{Line: 1, Reason: "missing header row"}
	}
	if err != nil {
		return nil, &fields.ParseError{Line: 1, Reason: "unreadable header row", Err: err}
	}

	columns, err := c.parseHeader(header)
	if err != nil {
		return nil, err
	}

	var records []*fields.Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			perr := &fields.ParseError{Reason: "malformed device row", Err: err}
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				perr.Line = csvErr.Line
				if errors.Is(csvErr.Err, csv.ErrFieldCount) {
					perr.Reason = fmt.Sprintf("expected %d columns, got %d", len(header), len(row))
					perr.Err = nil
				}
			}
			return nil, perr
		}

		line, _ := r.FieldPos(0)
		rec, err := c.buildRecord(len(records), line, columns, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return fields.NewSnapshot(records), nil
}

func (c *Collector) parseHeader(header []string) (map[fields.Identifier]column, error) {
	columns := make(map[fields.Identifier]column, len(header))

	for i, name := range header {
		m := headerPattern.FindStringSubmatch(strings.TrimSpace(name))
		if m == nil {
			return nil, &fields.ParseError{Line: 1, Reason: fmt.Sprintf("cannot parse column %q", name)}
		}
		id, err := fields.ParseIdentifier(m[1])
		if err != nil {
			return nil, &fields.ParseError{Line: 1, Reason: fmt.Sprintf("cannot parse column %q", name), Err: err}
		}
		columns[id] = column{index: i, unit: strings.TrimSpace(m[2])}
	}

	for _, id := range c.registry.Queried() {
		if _, ok := columns[id]; !ok {
			return nil, &fields.ParseError{Line: 1, Field: id, Reason: "column missing from output"}
		}
	}
	return columns, nil
}

func (c *Collector) buildRecord(index, line int, columns map[fields.Identifier]column, row []string) (*fields.Record, error) {
	rec := fields.NewRecord(index)

	for _, id := range c.registry.All() {
		spec, err := c.registry.Resolve(id)
		if err != nil {
			return nil, err
		}
		if spec.Derived() {
			rec.AddDerived(spec)
			continue
		}

		col := columns[id]
		raw := strings.TrimSpace(row[col.index])
		if spec.Transform != nil {
			raw, err = spec.Transform(raw)
			if err != nil {
				return nil, &fields.ParseError{Line: line, Field: id, Reason: "transform failed", Err: err}
			}
			raw = strings.TrimSpace(raw)
		}

		value, suffix := splitUnit(raw)
		rec.AddQueried(spec, value, firstNonEmpty(spec.Unit, col.unit, suffix))
	}

	if err := rec.ResolveMaxima(); err != nil {
		var perr *fields.ParseError
		if errors.As(err, &perr) && perr.Line == 0 {
			perr.Line = line
		}
		return nil, err
	}
	return rec, nil
}

// splitUnit separates "1024 MiB" into "1024" and "MiB". Values without a
// numeric prefix are returned unchanged.
func splitUnit(raw string) (string, string) {
	m := unitPattern.FindStringSubmatch(raw)
	if m == nil {
		return raw, ""
	}
	return m[1], strings.TrimSpace(m[2])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
