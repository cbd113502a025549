package aws // import "github.com/NYTimes/mqcli/config/aws"

import (
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/kelseyhightower/envconfig"
)

const (
	// RegionUSEast1 is a helper constant for AWS configs.
	RegionUSEast1 = "us-east-1"
	// RegionUSWest is a helper constant for AWS configs.
	RegionUSWest = "us-west-1"
)

// Config holds common AWS credentials and keys.
type Config struct {
	AccessKey       string `envconfig:"AWS_ACCESS_KEY"`
	MFASerialNumber string `envconfig:"AWS_MFA_SERIAL_NUMBER"`
	Region          string `envconfig:"AWS_REGION"`
	RoleARN         string `envconfig:"AWS_ROLE_ARN"`
	SecretKey       string `envconfig:"AWS_SECRET_KEY"`
	SessionToken    string `envconfig:"AWS_SESSION_TOKEN"`
	// EndpointURL is an optional endpoint URL (hostname only or fully
	// qualified URI) that overrides the default endpoint for the SQS and SNS
	// clients. AWS emulators such as localstack need this.
	EndpointURL *string `envconfig:"AWS_ENDPOINT_URL"`
}

// LoadConfigFromEnv will attempt to load the Config struct
// from environment variables.
func LoadConfigFromEnv() Config {
	var aws Config
	envconfig.Process("", &aws)
	return aws
}

// Credentials picks credentials in order: static keys, an assumed role, then
// nil so the SDK's default chain applies. sess is only used for the role.
func (c Config) Credentials(sess *session.Session) *credentials.Credentials {
	switch {
	case c.AccessKey != "":
		return credentials.NewStaticCredentials(c.AccessKey, c.SecretKey, c.SessionToken)
	case c.RoleARN != "" && sess != nil:
		return stscreds.NewCredentials(sess, c.RoleARN, func(p *stscreds.AssumeRoleProvider) {
			if c.MFASerialNumber != "" {
				p.SerialNumber = &c.MFASerialNumber
				p.TokenProvider = stscreds.StdinTokenProvider
			}
		})
	}
	return nil
}
