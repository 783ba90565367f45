package cmd

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"testing"

	"github.com/confideapp/confide/confide"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordCommand(t *testing.T) {
	passwords := []string{"testpassword", "testpassword"}
	passwordIndex := 0

	mockPasswordReader := func() ([]byte, error) {
		if passwordIndex >= len(passwords) {
			return nil, fmt.Errorf("no more passwords")
		}
		password := passwords[passwordIndex]
		passwordIndex++
		return []byte(password), nil
	}

	t.Cleanup(
		func() {
			customPasswordReader = nil
		},
	)

	customPasswordReader = mockPasswordReader

	// Mock user input for the username prompt
	oldStdin := os.Stdin
	t.Cleanup(
		func() {
			os.Stdin = oldStdin
		},
	)
	input := "testadmin\n"
	r, w, _ := os.Pipe()
	os.Stdin = r
	go func() {
		_, _ = w.Write([]byte(input))
		_ = w.Close()
	}()

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"hash-password"})
	err := rootCmd.Execute()
	require.NoError(t, err)

	output := out.String()
	t.Logf("output: %s", output)
	assert.Contains(t, output, "Enter admin password:")
	assert.Contains(t, output, "Confirm admin password:")
	assert.Contains(t, output, "CONFIDE_API_ADMIN_PASSWORD_HASH=")
	assert.Contains(t, output, "CONFIDE_API_ADMIN_USERNAME='testadmin'")

	re := regexp.MustCompile(`CONFIDE_API_ADMIN_PASSWORD_HASH='([^']+)'`)
	matches := re.FindStringSubmatch(output)
	require.Len(t, matches, 2)

	hash := matches[1]
	assert.NotEqual(t, "testpassword", hash)

	valid, err := confide.VerifyPassword(hash, "testpassword")
	assert.NoError(t, err)
	assert.True(t, valid)

	valid, err = confide.VerifyPassword(hash, "wrongpassword")
	assert.NoError(t, err)
	assert.False(t, valid)
}
