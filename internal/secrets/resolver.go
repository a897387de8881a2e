package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	pkgconfig "github.com/lumacorp/industry-exporter/pkg/config"
)

// Credentials holds the SSO application credentials and the refresh token
// obtained during the one-time interactive authorization.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether all required fields are present.
func (c Credentials) Valid() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Resolve loads SSO credentials from AWS Secrets Manager when secretName is
// set (stored as a JSON map), falling back to environment variables.
// Missing credentials are a fatal configuration error for the caller.
func Resolve(ctx context.Context, logger *zap.Logger, region, secretName string) (Credentials, error) {
	if secretName != "" {
		creds, err := fromSecretsManager(ctx, region, secretName)
		if err != nil {
			return Credentials{}, err
		}
		logger.Info("secrets.resolved", zap.String("source", "aws_sm"), zap.String("secret", secretName))
		return creds, nil
	}

	creds := Credentials{
		ClientID:     pkgconfig.GetEnv("ESI_CLIENT_ID", ""),
		ClientSecret: pkgconfig.GetEnv("ESI_CLIENT_SECRET", ""),
		RefreshToken: pkgconfig.GetEnv("ESI_REFRESH_TOKEN", ""),
	}
	if !creds.Valid() {
		return Credentials{}, fmt.Errorf("incomplete SSO credentials: set AWS_SECRET_NAME or ESI_CLIENT_ID/ESI_CLIENT_SECRET/ESI_REFRESH_TOKEN")
	}
	logger.Info("secrets.resolved", zap.String("source", "env"))
	return creds, nil
}

func fromSecretsManager(ctx context.Context, region, secretName string) (Credentials, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to fetch secret [%s]: %w", secretName, err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(*out.SecretString), &creds); err != nil {
		return Credentials{}, fmt.Errorf("invalid secret format for [%s]: %w", secretName, err)
	}
	if !creds.Valid() {
		return Credentials{}, fmt.Errorf("secret [%s] is missing required fields", secretName)
	}
	return creds, nil
}
