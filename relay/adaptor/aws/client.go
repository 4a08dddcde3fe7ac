package aws

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/llmux/llmux/relay/meta"
)

// bedrockModelIDs maps plain Anthropic model names onto Bedrock model ids.
// Ids configured with a vendor prefix pass through untouched.
var bedrockModelIDs = map[string]string{
	"claude-3-haiku-20240307":    "anthropic.claude-3-haiku-20240307-v1:0",
	"claude-3-sonnet-20240229":   "anthropic.claude-3-sonnet-20240229-v1:0",
	"claude-3-opus-20240229":     "anthropic.claude-3-opus-20240229-v1:0",
	"claude-3-5-sonnet-20240620": "anthropic.claude-3-5-sonnet-20240620-v1:0",
	"claude-3-5-sonnet-20241022": "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"claude-3-5-haiku-20241022":  "anthropic.claude-3-5-haiku-20241022-v1:0",
	"claude-3-7-sonnet-20250219": "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	"claude-sonnet-4-20250514":   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	"claude-opus-4-20250514":     "us.anthropic.claude-opus-4-20250514-v1:0",
}

func bedrockModelID(actualModel string) string {
	if id, ok := bedrockModelIDs[actualModel]; ok {
		return id
	}
	return actualModel
}

// newClient builds a Bedrock runtime client from the provider's static
// credentials.
func newClient(m *meta.Meta) (*bedrockruntime.Client, error) {
	if m.Provider == nil {
		return nil, errors.New("aws provider missing")
	}
	region := strings.TrimSpace(m.Provider.AWSRegion)
	if region == "" {
		region = "us-east-1"
	}
	if m.Provider.AWSAccessKey == "" || m.Provider.AWSSecretKey == "" {
		return nil, errors.New("aws provider needs aws_access_key and aws_secret_key")
	}
	return bedrockruntime.New(bedrockruntime.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(m.Provider.AWSAccessKey, m.Provider.AWSSecretKey, "")),
	}), nil
}
