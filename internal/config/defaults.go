package config

import "time"

// Defaults returns the baseline server configuration.
func Defaults() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8000,
		UploadDir:    "uploads",
		FrontendDir:  "frontend/dist",
		MaxFileSize:  100 << 20,
		MaxWorkers:   4,
		JobRetention: Duration(24 * time.Hour),
		LogLevel:     "info",
		CORSOrigins: []string{
			"http://localhost:5173",
			"http://localhost:3000",
			"http://127.0.0.1:5173",
			"http://127.0.0.1:3000",
		},
		Languages:           []string{"English", "Russian", "Polish"},
		ConversationTypes:   []string{"Interview", "Business Meeting"},
		SupportedExtensions: []string{".m4a", ".mp3", ".wav", ".aac"},
		Gemini: GeminiConfig{
			Model:                "gemini-3-flash-preview",
			FallbackModel:        "gemini-flash-latest",
			InputCostPerMillion:  0.50,
			OutputCostPerMillion: 3.00,
		},
	}
}
