package server_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-mcp/cortex/internal/server"
	"github.com/cortex-mcp/cortex/internal/store"
	"github.com/cortex-mcp/cortex/internal/tools"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cortex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return server.New(tools.New(st, log), log)
}

// run feeds input through the loop and returns the decoded response
// lines.
func run(t *testing.T, s *server.Server, input string) []map[string]any {
	t.Helper()
	var out strings.Builder
	require.NoError(t, s.Run(strings.NewReader(input), &out))

	var responses []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out.String()))
	for sc.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &resp), "line: %s", sc.Text())
		responses = append(responses, resp)
	}
	return responses
}

func TestRun_SuccessfulRequest(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, `{"id": 1, "method": "start_session", "params": {"name": "demo"}}`+"\n")

	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, float64(1), resp["id"])
	require.NotContains(t, resp, "error")
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["success"])
}

func TestRun_ParseErrorUsesIDZeroAndLoopSurvives(t *testing.T) {
	s := newTestServer(t)

	input := "this is not json\n" +
		`{"id": 2, "method": "list_sessions"}` + "\n"
	responses := run(t, s, input)

	require.Len(t, responses, 2)

	first := responses[0]
	assert.Equal(t, float64(0), first["id"])
	assert.Equal(t, "parse_error", first["error"].(map[string]any)["code"])

	second := responses[1]
	assert.Equal(t, float64(2), second["id"])
	assert.NotContains(t, second, "error")
}

func TestRun_MissingID(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, `{"method": "list_sessions"}`+"\n")

	require.Len(t, responses, 1)
	assert.Equal(t, float64(0), responses[0]["id"])
	assert.Equal(t, "invalid_request", responses[0]["error"].(map[string]any)["code"])
}

func TestRun_MissingMethodEchoesID(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, `{"id": 7}`+"\n")

	require.Len(t, responses, 1)
	assert.Equal(t, float64(7), responses[0]["id"])
	assert.Equal(t, "invalid_request", responses[0]["error"].(map[string]any)["code"])
}

func TestRun_MethodNotFound(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, `{"id": 3, "method": "warp_drive"}`+"\n")

	require.Len(t, responses, 1)
	errObj := responses[0]["error"].(map[string]any)
	assert.Equal(t, "method_not_found", errObj["code"])
	assert.Contains(t, errObj["message"], "warp_drive")
}

func TestRun_SkipsEmptyLines(t *testing.T) {
	s := newTestServer(t)

	input := "\n   \n" + `{"id": 1, "method": "list_sessions"}` + "\n\n"
	responses := run(t, s, input)

	require.Len(t, responses, 1)
}

func TestRun_ResponsesInRequestOrder(t *testing.T) {
	s := newTestServer(t)

	var input strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&input, `{"id": %d, "method": "list_sessions"}`+"\n", i)
	}
	responses := run(t, s, input.String())

	require.Len(t, responses, 5)
	for i, resp := range responses {
		assert.Equal(t, float64(i+1), resp["id"])
	}
}

func TestRun_StringIDEchoedVerbatim(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, `{"id": "req-abc", "method": "list_sessions"}`+"\n")

	require.Len(t, responses, 1)
	assert.Equal(t, "req-abc", responses[0]["id"])
}

func TestRun_OversizedLineRejectedAndLoopSurvives(t *testing.T) {
	s := newTestServer(t)

	// A single request well past the line limit, followed by a valid one.
	big := `{"id": 1, "method": "start_session", "params": {"name": "` +
		strings.Repeat("x", 2<<20) + `"}}`
	input := big + "\n" + `{"id": 2, "method": "list_sessions"}` + "\n"

	responses := run(t, s, input)

	require.Len(t, responses, 2)

	first := responses[0]
	assert.Equal(t, float64(0), first["id"])
	assert.Equal(t, "parse_error", first["error"].(map[string]any)["code"])

	second := responses[1]
	assert.Equal(t, float64(2), second["id"])
	assert.NotContains(t, second, "error")
}

func TestRun_OversizedUnterminatedFinalLine(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, strings.Repeat("y", 2<<20))

	require.Len(t, responses, 1)
	assert.Equal(t, "parse_error", responses[0]["error"].(map[string]any)["code"])
}

func TestRun_DomainFailureTravelsInResult(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s,
		`{"id": 1, "method": "get_context", "params": {"session_id": "missing"}}`+"\n")

	require.Len(t, responses, 1)
	resp := responses[0]
	require.NotContains(t, resp, "error", "domain failures must not use the protocol error branch")
	result := resp["result"].(map[string]any)
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "not_found", result["error"])
}
