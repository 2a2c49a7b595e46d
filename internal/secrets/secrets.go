// Package secrets exports the API credentials held in Secrets Manager
// as environment variables for the rest of the run.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/tidwall/gjson"
)

// defaultNames are the credential sets the automation needs.
var defaultNames = []string{
	"Nuveau_Shipstation",
	"Lentics_Shipstation",
	"Lentics_Fedex",
	"Lentics_UPS",
	"Nuveau_USPS",
}

// SecretGetter provides an interface for getting secret values
type SecretGetter interface {
	GetSecretValue(*secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

// Loader reads credentials from Secrets Manager.
type Loader struct {
	sm SecretGetter
}

// NewLoader returns a Loader with a Secrets Manager client.
func NewLoader(sm SecretGetter) *Loader {
	return &Loader{sm: sm}
}

// Names returns the secret names to load, from SECRET_NAMES when set.
func Names() []string {
	env, ok := os.LookupEnv("SECRET_NAMES")
	if !ok {
		return defaultNames
	}
	var names []string
	for _, n := range strings.Split(env, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Export fetches each named secret and sets API_KEY_<NAME> and
// API_SECRET_<NAME> in the environment. Each secret holds a JSON
// document with api_key and api_secret fields.
func (l *Loader) Export(names []string) error {

	for _, name := range names {
		out, err := l.sm.GetSecretValue(&secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("failed to get secret %v: %v", name, err)
		}
		if out.SecretString == nil {
			return fmt.Errorf("secret %v has no string value", name)
		}

		key := gjson.Get(*out.SecretString, "api_key").String()
		secret := gjson.Get(*out.SecretString, "api_secret").String()
		if key == "" || secret == "" {
			return fmt.Errorf("secret %v is missing api_key or api_secret", name)
		}

		upper := strings.ToUpper(name)
		os.Setenv("API_KEY_"+upper, key)
		os.Setenv("API_SECRET_"+upper, secret)
	}

	return nil
}
