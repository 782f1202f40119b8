package log_test

import (
	"math/big"
	"testing"

	"github.com/benbjohnson/pcode/internal/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHex(t *testing.T) {
	require.Equal(t, "0x0", log.Hex(big.NewInt(0)))
	require.Equal(t, "0xdeadbeef", log.Hex(big.NewInt(0xdeadbeef)))
	require.Equal(t, "-0x10", log.Hex(big.NewInt(-16)))
	require.Equal(t, "<nil>", log.Hex(nil))
}

func TestLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := log.FromZap(zap.New(core))

	var got []string
	l.SetOnTrace(func(pc int, opcode, detail string) {
		got = append(got, opcode)
	})
	l.Trace(3, "INT_ADD", "(register, 0x0, 8)")

	require.Equal(t, []string{"INT_ADD"}, got)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "exec", entry.Message)
	require.Equal(t, int64(3), entry.ContextMap()["pc"])
}

func TestLogger_WithCategory(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := log.FromZap(zap.New(core)).WithCategory("translate")
	l.Info("block", log.Addr(big.NewInt(0x1000)))

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "translate", logs.All()[0].ContextMap()["cat"])
	require.Equal(t, "0x1000", logs.All()[0].ContextMap()["addr"])
}

func TestDefault(t *testing.T) {
	require.NotNil(t, log.Default())
}
