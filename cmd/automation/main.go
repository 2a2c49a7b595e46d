package main

import (
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/lentics/shipstation-automation/internal/config"
	"github.com/lentics/shipstation-automation/internal/notifier"
	"github.com/lentics/shipstation-automation/internal/processor"
	"github.com/lentics/shipstation-automation/internal/secrets"
	"github.com/lentics/shipstation-automation/pkg/customerlog"
	"github.com/lentics/shipstation-automation/pkg/rates/fedex"
	"github.com/lentics/shipstation-automation/pkg/rates/ups"
	"github.com/lentics/shipstation-automation/pkg/rates/usps"
	"github.com/lentics/shipstation-automation/pkg/shipstation"
)

var sess *session.Session
var loader *secrets.Loader
var notify *notifier.Notifier
var custlog *customerlog.Logger

func init() {
	sess = session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	region := &aws.Config{Region: aws.String(os.Getenv("AWS_REGION"))}
	loader = secrets.NewLoader(secretsmanager.New(sess, region))

	var err error
	notify, err = notifier.New(sns.New(sess, region))
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		os.Exit(1)
	}
	custlog, err = customerlog.New(s3.New(sess, region))
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		os.Exit(1)
	}
}

// run builds the clients and processes the batch.
func run() error {

	if err := loader.Export(secrets.Names()); err != nil {
		return err
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	shippers := make(map[string]processor.Shipper, len(cfg.Accounts))
	for account := range cfg.Accounts {
		ss, err := shipstation.New(account)
		if err != nil {
			return err
		}
		shippers[account] = ss
	}

	upsClient, err := ups.NewClient()
	if err != nil {
		return err
	}
	uspsClient, err := usps.New()
	if err != nil {
		return err
	}
	fedexClient, err := fedex.NewClient()
	if err != nil {
		return err
	}

	return processor.New(cfg, shippers, upsClient, uspsClient, fedexClient, custlog).Run()
}

func handler(event events.CloudWatchEvent) error {

	fmt.Printf("starting automation run triggered by %v\n", event.ID)

	if err := run(); err != nil {
		fmt.Printf("automation run failed: %v\n", err)
		if nerr := notify.Failure(err); nerr != nil {
			fmt.Printf("%v\n", nerr)
		}
		return err
	}

	if err := notify.Success(); err != nil {
		fmt.Printf("%v\n", err)
	}
	return nil
}

func main() {
	lambda.Start(handler)
}
