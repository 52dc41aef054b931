package params

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolve returns the value for a cold-start setting. The env var wins;
// otherwise <name>_PARAM names an SSM parameter to read. Empty result with
// nil error means the setting is simply not configured.
func Resolve(ctx context.Context, c SSMClient, name string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, nil
	}

	paramName := strings.TrimSpace(os.Getenv(name + "_PARAM"))
	if paramName == "" {
		return "", nil
	}

	out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm GetParameter %s: %w", paramName, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %s has no value", paramName)
	}
	return strings.TrimSpace(aws.ToString(out.Parameter.Value)), nil
}

// MustResolve is Resolve but errors when the setting is missing entirely.
func MustResolve(ctx context.Context, c SSMClient, name string) (string, error) {
	v, err := Resolve(ctx, c, name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("missing setting: set %s or %s_PARAM", name, name)
	}
	return v, nil
}
