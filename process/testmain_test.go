package process

import (
	"os"
	"testing"

	"github.com/zhubert/agentdesk/logger"
)

func TestMain(m *testing.M) {
	// Disable logging during tests to avoid writing to the real log directory
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}
