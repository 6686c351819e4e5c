package pager

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage_InvokesConfiguredPager(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	t.Setenv("PAGER", "cat")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	err = page("hello from pager\n")
	w.Close()
	os.Stdout = orig
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	assert.Contains(t, string(buf[:n]), "hello from pager")
}

func TestPage_MissingPagerFallsBackToDirectWrite(t *testing.T) {
	t.Setenv("PAGER", filepath.Join(t.TempDir(), "does-not-exist"))

	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	err = page("fallback content\n")
	w.Close()
	os.Stdout = orig
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	assert.Contains(t, string(buf[:n]), "fallback content")
}
