// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagert/internal/page/element"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"github.com/xkilldash9x/pagert/internal/page/scheduler"
	"github.com/xkilldash9x/pagert/internal/reporting"
)

func sampleReport() *reporting.Report {
	return &reporting.Report{
		Version: "v1.0.0-test",
		Session: "session-1",
		Page:    "page.html",
		Passes: []scheduler.PassReport{{
			Session:   "session-1",
			Pass:      1,
			Viewport:  layoutrect.Ltwh(0, 800, 400, 800),
			Built:     3,
			Scheduled: 2,
			Completed: 1,
			Failed:    1,
			Duration:  15 * time.Millisecond,
			Resources: []scheduler.ResourceReport{{ID: 1, DebugID: "amp-img#1", State: "LAYOUT_COMPLETE"}},
		}},
		Errors: scheduler.ErrorStats{TargetFailures: 1},
		Elements: []element.Snapshot{
			{Tag: "amp-img", ID: "hero", Built: true, Layouts: 1, LastBox: layoutrect.Ltwh(0, 0, 100, 50)},
			{Tag: "amp-ad", Built: true, Placeholder: true},
		},
	}
}

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		var buf bytes.Buffer
		r, err := reporting.New(format, "", &buf)
		require.NoError(t, err)
		require.NoError(t, r.Write(sampleReport()))
		assert.NoError(t, r.Close(), "closing stdout is a no-op")
		assert.NotEmpty(t, buf.String())

		r, err = reporting.New(format, "stdout", &buf)
		require.NoError(t, err)
		assert.NoError(t, r.Close())
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, err := reporting.New("json", path, nil)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "the output file is created up front")

	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got reporting.Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Empty(t, cmp.Diff(*sampleReport(), got))
}

func TestNew_Failures(t *testing.T) {
	r, err := reporting.New("sarif", "", &bytes.Buffer{})
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "unsupported output format: sarif")

	path := filepath.Join(t.TempDir(), "unused.json")
	_, err = reporting.New("xml", path, nil)
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is left behind for a bad format")

	_, err = reporting.New("json", filepath.Join(t.TempDir(), "missing", "report.json"), nil)
	assert.ErrorContains(t, err, "failed to create output file")
}

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.New("text", "", &buf)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "pagert v1.0.0-test  session session-1  page page.html")
	assert.Regexp(t, `(?m)^1\s+800\s+3\s+0\s+0\s+2\s+0\s+1\s+1\s+0\s+0\s+0\s+15ms$`, out)
	assert.Regexp(t, `(?m)^amp-img#hero\s+true\s+1\s+0\s+false\s+false\s+0,0 100x50$`, out)
	assert.Regexp(t, `(?m)^amp-ad\s+true\s+0\s+0\s+false\s+true\s+0,0 0x0$`, out)
	assert.Contains(t, out, "errors: violations=0 target_failures=1 other=0")
}
