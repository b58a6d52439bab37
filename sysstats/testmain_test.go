package sysstats

import (
	"os"
	"testing"

	"github.com/zhubert/agentdesk/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)
	os.Exit(m.Run())
}
