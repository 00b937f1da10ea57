package ncp

import (
	"bufio"
	"io"

	"go.uber.org/zap"
)

func bufioReader(r io.Reader) *bufio.Reader { return bufio.NewReader(r) }

func nopLogger() *zap.Logger { return zap.NewNop() }
