// Package notifier reports run outcomes to an SNS topic.
package notifier

import (
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
)

// Publisher provides an interface for publishing to a topic
type Publisher interface {
	Publish(*sns.PublishInput) (*sns.PublishOutput, error)
}

// Notifier publishes run outcomes.
type Notifier struct {
	p     Publisher
	topic string
}

// New returns a Notifier publishing to the topic in TOPIC_ARN.
func New(p Publisher) (*Notifier, error) {
	topic, ok := os.LookupEnv("TOPIC_ARN")
	if !ok {
		return nil, fmt.Errorf("no topic ARN provided")
	}
	return &Notifier{p: p, topic: topic}, nil
}

// Success reports a completed run.
func (n *Notifier) Success() error {
	return n.publish("ShipStation automation successful",
		"ShipStation automation ran successfully")
}

// Failure reports a failed run with its cause.
func (n *Notifier) Failure(cause error) error {
	return n.publish("Error on ShipStation automation",
		fmt.Sprintf("ShipStation automation failed: %v", cause))
}

func (n *Notifier) publish(subject, message string) error {
	_, err := n.p.Publish(&sns.PublishInput{
		TopicArn: aws.String(n.topic),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %v", err)
	}
	return nil
}
