package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmelchner/aDB/lib/evd/engines/rowan"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupDatabaseFlags adds the common database flags to a command
func SetupDatabaseFlags(cmd *cobra.Command) {
	key := "file"
	cmd.PersistentFlags().String(key, "", WrapString("Snapshot file backing the database. It is loaded before the command runs and written back after mutating commands. If empty, all data lives in memory only"))

	key = "name"
	cmd.PersistentFlags().String(key, "default", WrapString("The name of the database to operate on"))

	key = "store"
	cmd.PersistentFlags().String(key, "default", WrapString("The name of the object store to operate on"))

	key = "codec"
	cmd.PersistentFlags().String(key, "snappy", WrapString("Compression codec for snapshot files (none, snappy, zstd, lz4)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level of the database engine (debug, info, warn, error)"))
}

// InitCLIConfig initializes configuration from environment variables
func InitCLIConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("adb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetSnapshotFile retrieves the configured snapshot file path ("" means in-memory only)
func GetSnapshotFile() string {
	return viper.GetString("file")
}

// GetDatabaseName retrieves the configured database name
func GetDatabaseName() string {
	return viper.GetString("name")
}

// GetStoreName retrieves the configured object store name
func GetStoreName() string {
	return viper.GetString("store")
}

// GetLogLevel retrieves the configured engine log level
func GetLogLevel() string {
	return viper.GetString("log-level")
}

// GetCodec parses the configured snapshot codec
func GetCodec() (rowan.Codec, error) {
	return rowan.ParseCodec(viper.GetString("codec"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
