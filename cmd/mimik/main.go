package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/mimicry-ai/mimik/common/environment"
	"github.com/mimicry-ai/mimik/common/version"
	"github.com/mimicry-ai/mimik/internal/mimik/app"
	"github.com/mimicry-ai/mimik/internal/mimik/matrix"
	"github.com/mimicry-ai/mimik/internal/mimik/profile"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded configuration from .env")
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	fmt.Printf("Mimik Conversational Data Collector\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mimik, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Mimik: %v\n", err)
		os.Exit(1)
	}
	defer mimik.Stop()

	if err := mimik.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Mimik: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables
func loadConfig() (*app.Config, error) {
	homeserver, err := environment.RequiredString("MATRIX_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("MATRIX_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("MATRIX_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}

	config := &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./mimik.db"),
		ExportDir:    environment.StringOr("EXPORT_DIR", "./exports"),
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
		},
		OpenAIAPIKey:  environment.StringOr("OPENAI_API_KEY", ""),
		OpenAIModel:   environment.StringOr("OPENAI_MODEL", ""),
		OpenAIBaseURL: environment.StringOr("OPENAI_BASE_URL", ""),
		HTTPAddr:      environment.StringOr("HTTP_ADDR", ""),
	}

	// An on-disk profile overrides the built-in collection defaults.
	if path := environment.StringOr("PROFILE_PATH", ""); path != "" {
		prof, err := profile.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", path, err)
		}
		config.Profile = prof
	}

	return config, nil
}
