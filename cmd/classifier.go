package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/hunchbank/supportd/internal/classifier"
)

// newClassifier creates an intent classifier from config/env, or returns nil
// if no API key is configured.
func newClassifier() *classifier.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return classifier.NewClient(apiKey, viper.GetString("anthropic.model"))
}
