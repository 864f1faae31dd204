package main

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/srg/babymon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// syncBuffer is an io.Writer safe to read while commands write to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite drives command logic against a fake radio and captures its output.
type CommandTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	out    *syncBuffer
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.out = &syncBuffer{}
}

// waitOutput waits until the captured output contains text.
func (s *CommandTestSuite) waitOutput(text string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(s.out.String(), text)
	}, testutils.DefaultWait, 5*time.Millisecond, "output MUST contain %q, got:\n%s", text, s.out.String())
}
