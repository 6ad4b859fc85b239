package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/logger"
)

// decodeLines parses one JSON object per line.
func decodeLines(buf *bytes.Buffer) []map[string]any {
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		Expect(json.Unmarshal([]byte(line), &rec)).To(Succeed())
		records = append(records, rec)
	}
	return records
}

// failingWriter rejects every write, like a log file on a full disk.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

var _ = Describe("New", func() {
	It("writes text by default", func() {
		var buf bytes.Buffer
		logger.New(logger.WithWriter(&buf)).Info("job queued", logger.KeyJobID, "job-1")

		Expect(buf.String()).To(ContainSubstring("msg=\"job queued\""))
		Expect(buf.String()).To(ContainSubstring("job_id=job-1"))
	})

	It("writes one JSON object per record", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON))
		l.Info("batch embedded", "batch_size", 5)
		l.Info("batch embedded", "batch_size", 3)

		records := decodeLines(&buf)
		Expect(records).To(HaveLen(2))
		Expect(records[1]["batch_size"]).To(BeNumerically("==", 3))
	})

	It("writes pretty output", func() {
		var buf bytes.Buffer
		logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatPretty)).Warn("skipping passage")

		Expect(buf.String()).To(ContainSubstring("skipping passage"))
	})

	DescribeTable("filters by level",
		func(debug, visible bool) {
			var buf bytes.Buffer
			logger.New(logger.WithWriter(&buf), logger.WithDebug(debug)).Debug("flush attempt")

			if visible {
				Expect(buf.String()).To(ContainSubstring("flush attempt"))
			} else {
				Expect(buf.String()).To(BeEmpty())
			}
		},
		Entry("debug on", true, true),
		Entry("debug off", false, false),
	)
})

var _ = Describe("Nop", func() {
	It("is disabled at every level", func() {
		l := logger.Nop()
		for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelError} {
			Expect(l.Handler().Enabled(context.Background(), level)).To(BeFalse())
		}
		Expect(func() { logger.ForJob(l, "job-1", "book-1").WithGroup("g").Error("x") }).NotTo(Panic())
	})
})

var _ = Describe("ForJob", func() {
	It("tags records with the job and document", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON))
		logger.ForJob(l, "job-7", "book-7").Info("job finished", "embedded", 12)

		records := decodeLines(&buf)
		Expect(records).To(HaveLen(1))
		Expect(records[0]).To(HaveKeyWithValue(logger.KeyJobID, "job-7"))
		Expect(records[0]).To(HaveKeyWithValue(logger.KeyDocumentID, "book-7"))
		Expect(records[0]).To(HaveKeyWithValue("embedded", BeNumerically("==", 12)))
	})
})

var _ = Describe("Multi", func() {
	var terminal, file bytes.Buffer

	BeforeEach(func() {
		terminal.Reset()
		file.Reset()
	})

	newServeLogger := func(debug bool) *slog.Logger {
		return logger.Multi(
			logger.New(logger.WithWriter(&terminal), logger.WithFormat(logger.FormatPretty), logger.WithDebug(debug)),
			logger.New(logger.WithWriter(&file), logger.WithFormat(logger.FormatJSON), logger.WithDebug(true)),
		)
	}

	It("fans job attributes out to every handler", func() {
		logger.ForJob(newServeLogger(false), "job-3", "book-3").Info("job started", "passages", 40)

		Expect(terminal.String()).To(ContainSubstring("job started"))
		Expect(terminal.String()).To(ContainSubstring("job-3"))

		records := decodeLines(&file)
		Expect(records).To(HaveLen(1))
		Expect(records[0]).To(HaveKeyWithValue(logger.KeyJobID, "job-3"))
		Expect(records[0]).To(HaveKeyWithValue(logger.KeyDocumentID, "book-3"))
	})

	It("respects each handler's level", func() {
		newServeLogger(false).Debug("upsert retry", "attempt", 2)

		Expect(terminal.String()).To(BeEmpty())
		Expect(decodeLines(&file)).To(HaveLen(1))
	})

	It("nests groups in every handler", func() {
		newServeLogger(false).WithGroup("summary").Info("job finished", "skipped", 1)

		records := decodeLines(&file)
		Expect(records[0]).To(HaveKey("summary"))
		Expect(records[0]["summary"]).To(HaveKeyWithValue("skipped", BeNumerically("==", 1)))
	})

	It("keeps writing when one handler fails", func() {
		var buf bytes.Buffer
		multi := logger.Multi(
			logger.New(logger.WithWriter(failingWriter{}), logger.WithFormat(logger.FormatJSON)),
			logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON)),
		)

		record := slog.NewRecord(time.Now(), slog.LevelInfo, "job queued", 0)
		err := multi.Handler().Handle(context.Background(), record)
		Expect(err).To(MatchError(ContainSubstring("disk full")))
		Expect(decodeLines(&buf)).To(HaveLen(1))
	})
})
