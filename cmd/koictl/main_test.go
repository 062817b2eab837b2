package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPrintsRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/koi/KOI-001", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"KOI-001","current_owner":"0xA"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := newApp(&out, io.Discard).Run([]string{"koictl", "--registry", srv.URL, "get", "KOI-001"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"current_owner": "0xA"`)
}

func TestMintSendsOnlyGivenAttributes(t *testing.T) {
	photo := filepath.Join(t.TempDir(), "koi.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xA", r.Header.Get("X-Principal-ID"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "KOI-009", r.FormValue("id"))
		assert.Equal(t, "Showa", r.FormValue("variety"))
		assert.Equal(t, "41", r.FormValue("size_cm"))
		_, sent := r.MultipartForm.Value["breeder"]
		assert.False(t, sent)
		assert.Len(t, r.MultipartForm.File["photo"], 1)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"record":{"id":"KOI-009"}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := newApp(&out, io.Discard).Run([]string{
		"koictl", "--registry", srv.URL, "--principal", "0xA",
		"mint", "--id", "KOI-009", "--variety", "Showa", "--size-cm", "41", "--photo", photo,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "KOI-009")
}

func TestMutationsRequirePrincipal(t *testing.T) {
	err := newApp(io.Discard, io.Discard).Run([]string{"koictl", "transfer", "--to", "0xB", "--note", "sold", "KOI-001"})
	assert.ErrorIs(t, err, ErrPrincipalRequired)
}

func TestTransferRequiresNote(t *testing.T) {
	err := newApp(io.Discard, io.Discard).Run([]string{"koictl", "--principal", "0xA", "transfer", "--to", "0xB", "KOI-001"})
	assert.ErrorIs(t, err, ErrNoteRequired)
}
