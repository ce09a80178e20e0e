package display

import (
	"bytes"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/report"
)

func TestShouldOutputJSON(t *testing.T) {
	newCmd := func() *cobra.Command {
		root := &cobra.Command{Use: "nexus"}
		root.PersistentFlags().Bool("json", false, "")
		child := &cobra.Command{Use: "engines", Run: func(*cobra.Command, []string) {}}
		root.AddCommand(child)
		return child
	}

	t.Setenv("NEXUS_OUTPUT", "")
	cmd := newCmd()
	assert.False(t, ShouldOutputJSON(cmd))

	require.NoError(t, cmd.Root().PersistentFlags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(cmd))

	t.Setenv("NEXUS_OUTPUT", "json")
	assert.True(t, ShouldOutputJSON(newCmd()))
	assert.True(t, ShouldOutputJSON(nil))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]ledger.Amount{"total": ledger.MustParseAmount("12.5")}))
	assert.Equal(t, "{\n  \"total\": \"12.50\"\n}\n", buf.String())

	buf.Reset()
	err := WriteJSON(&buf, map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal JSON")
	assert.Empty(t, buf.String())
}

func TestTables(t *testing.T) {
	pterm.DisableStyling()
	t.Cleanup(pterm.EnableStyling)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, EngineTable(&buf, []report.EngineSummary{
		{Name: "alpha", Status: ledger.StatusActive, TotalEarnings: ledger.MustParseAmount("100.5"), LastActivity: &at},
		{Name: "beta", Status: ledger.StatusFailed},
	}))
	out := buf.String()
	assert.Contains(t, out, "ENGINE")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "100.50")
	assert.Contains(t, out, "failed")

	buf.Reset()
	require.NoError(t, TransactionTable(&buf, []ledger.Transaction{
		{ID: 7, Engine: "alpha", Kind: ledger.KindCorrection, Amount: ledger.MustParseAmount("-20"), Description: "refund", CreatedAt: at},
	}))
	assert.Contains(t, buf.String(), "-20.00")
	assert.Contains(t, buf.String(), "refund")
}
