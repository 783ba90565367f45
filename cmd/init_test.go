package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/confideapp/confide/confide"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	os.Setenv("CONFIDE_DATABASE_TYPE", "sqlite")
	os.Setenv("CONFIDE_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("CONFIDE_DATABASE_TYPE")
			os.Unsetenv("CONFIDE_DATABASE")
		},
	)

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

	rootCmd.SetArgs([]string{"init"})
	err := rootCmd.Execute()
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	// Verify the output
	output := out.String()
	t.Logf("output: %s", output)
	assert.Contains(t, output, "Initialization complete")
	assert.Contains(t, output, "Admin credentials are not set")

	// Verify the database contents
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	mg := db.Migrator()

	assert.True(t, mg.HasTable(&confide.GuildConfessionConfig{}))
	assert.True(t, mg.HasTable(&confide.Confession{}))
	assert.True(t, mg.HasTable(&confide.InteractionLog{}))
}
