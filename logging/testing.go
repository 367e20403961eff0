package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that writes through tb.Log, so each line is attributed to
// the test that produced it. Fields are printed as sorted key=value pairs in local time.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	parts := []string{entry.Time.Format(DefaultTimeFormatStr), strings.ToUpper(entry.Level.String())}
	if entry.LoggerName != "" {
		parts = append(parts, entry.LoggerName)
	}
	if entry.Caller.Defined {
		parts = append(parts, callerToString(&entry.Caller))
	}
	parts = append(parts, entry.Message)

	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range fields {
			f.AddTo(enc)
		}
		pairs := make([]string, 0, len(enc.Fields))
		for _, key := range slices.Sorted(maps.Keys(enc.Fields)) {
			pairs = append(pairs, fmt.Sprintf("%s=%v", key, enc.Fields[key]))
		}
		parts = append(parts, strings.Join(pairs, " "))
	}
	tapp.tb.Log(strings.Join(parts, "\t"))
	return nil
}

func (tapp *testAppender) Sync() error {
	return nil
}
