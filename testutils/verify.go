package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package tests and fails if goroutines outlive them.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m,
		// lumberjack starts one mill goroutine per logger on first write and never stops it.
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}
