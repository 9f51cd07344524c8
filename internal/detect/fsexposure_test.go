package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

func TestFilesystemExposureTraversalPlusCriticalPath(t *testing.T) {
	e := NewFilesystemExposureEngine()

	findings := e.Evaluate(msgWithPayload("../../etc/shadow"))
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "critical", f.Category)
	assert.GreaterOrEqual(t, f.Score, fsBandCritical)
	assert.Contains(t, f.Detail, "path_traversal")
	assert.Contains(t, f.Detail, "critical_system_path")
}

func TestFilesystemExposureEncodedTraversal(t *testing.T) {
	e := NewFilesystemExposureEngine()

	for _, payload := range []string{
		"..%2f..%2fetc%2fshadow",
		"..%252f..%252fetc%252fshadow",
	} {
		findings := e.Evaluate(msgWithPayload(payload))
		require.Len(t, findings, 1, payload)
		assert.Contains(t, findings[0].Detail, "path_traversal", payload)
		assert.Contains(t, findings[0].Detail, "critical_system_path", payload)
	}
}

func TestFilesystemExposureCredentialDir(t *testing.T) {
	e := NewFilesystemExposureEngine()

	findings := e.Evaluate(msgWithPayload("read /home/u/.ssh/id_rsa.pem"))
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Detail, "credential_directory")
	assert.Contains(t, findings[0].Detail, "dangerous_extension")
}

func TestFilesystemExposureWindowsSystemPath(t *testing.T) {
	e := NewFilesystemExposureEngine()

	findings := e.Evaluate(msgWithPayload(`C:\Windows\System32\config\SAM`))
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Detail, "critical_system_path")
}

func TestFilesystemExposureScoreCapped(t *testing.T) {
	e := NewFilesystemExposureEngine()

	// Every signal class at once still caps at 100.
	findings := e.Evaluate(msgWithPayload("../../root/.ssh/password-token.pem"))
	require.Len(t, findings, 1)
	assert.LessOrEqual(t, findings[0].Score, fsScoreCap)
	assert.Equal(t, "critical", findings[0].Category)
}

func TestFilesystemExposureBenignPath(t *testing.T) {
	e := NewFilesystemExposureEngine()
	assert.Empty(t, e.Evaluate(msgWithPayload("read /home/u/projects/readme.md")))
}

func TestFilesystemExposureSeverityBands(t *testing.T) {
	e := NewFilesystemExposureEngine()

	// Keyword only: below the medium band.
	low := e.Evaluate(msgWithPayload("update password reminder note"))
	require.Len(t, low, 1)
	assert.Equal(t, "low", low[0].Category)
	assert.Equal(t, types.SeverityLow, low[0].Severity)

	// Credential dir + keyword: medium band.
	med := e.Evaluate(msgWithPayload("/home/u/.aws/password"))
	require.Len(t, med, 1)
	assert.Equal(t, "medium", med[0].Category)
}
