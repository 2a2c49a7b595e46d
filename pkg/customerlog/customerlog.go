// Package customerlog appends customer rows to the CSV log kept in the
// customer data bucket.
package customerlog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/lentics/shipstation-automation/internal/config"
	"github.com/lentics/shipstation-automation/pkg/order"
)

// Bucketer provides an interface for the bucket operations the log needs
type Bucketer interface {
	ListObjectsV2(*s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	GetObject(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
	PutObject(*s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

// Row is one customer entry matching the columns of the CSV.
type Row struct {
	CustomerID   string
	OrderSource  string
	StoreName    string
	Account      string
	OrderDate    string
	OrderNumber  string
	AmountPaid   string
	CustomerName string
	Street1      string
	Street2      string
	City         string
	State        string
	Country      string
	Zip          string
	Phone        string
	Email        string
}

// FromOrder builds the log row for a shipped order.
func FromOrder(o *order.Order, cfg *config.Config) Row {
	return Row{
		CustomerID:   strconv.FormatInt(o.Customer.ID, 10),
		OrderSource:  o.Source,
		StoreName:    cfg.StoreNames[o.StoreID],
		Account:      o.Account,
		OrderDate:    o.OrderDate,
		OrderNumber:  o.Number,
		AmountPaid:   strconv.FormatFloat(o.AmountPaid, 'f', 2, 64),
		CustomerName: o.Customer.ShipTo.Name,
		Street1:      o.Customer.ShipTo.Street1,
		Street2:      o.Customer.ShipTo.Street2,
		City:         o.Customer.ShipTo.City,
		State:        o.Customer.ShipTo.State,
		Country:      o.Customer.ShipTo.Country,
		Zip:          o.Customer.ShipTo.PostalCode,
		Phone:        o.Customer.ShipTo.Phone,
		Email:        o.Customer.Email,
	}
}

func (r Row) fields() []string {
	return []string{
		r.CustomerID, r.OrderSource, r.StoreName, r.Account,
		r.OrderDate, r.OrderNumber, r.AmountPaid, r.CustomerName,
		r.Street1, r.Street2, r.City, r.State, r.Country, r.Zip,
		r.Phone, r.Email,
	}
}

// Logger appends rows to the CSV object in the bucket.
type Logger struct {
	s3     Bucketer
	bucket string
}

// New returns a Logger writing to the bucket in LOG_BUCKET.
func New(b Bucketer) (*Logger, error) {
	bucket, ok := os.LookupEnv("LOG_BUCKET")
	if !ok {
		return nil, fmt.Errorf("no log bucket provided")
	}
	return &Logger{s3: b, bucket: bucket}, nil
}

// Append downloads the log, appends the rows and uploads it again. The
// log is always the only object in the bucket.
func (l *Logger) Append(rows []Row) error {

	if len(rows) == 0 {
		return nil
	}

	key, err := l.objectKey()
	if err != nil {
		return err
	}

	obj, err := l.s3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download customer log: %v", err)
	}
	defer obj.Body.Close()

	existing, err := ioutil.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("failed to read customer log: %v", err)
	}

	buf := bytes.NewBuffer(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}

	w := csv.NewWriter(buf)
	for _, r := range rows {
		if err := w.Write(r.fields()); err != nil {
			return fmt.Errorf("failed to write customer row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write customer rows: %v", err)
	}

	_, err = l.s3.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload customer log: %v", err)
	}

	fmt.Printf("appended %v rows to the customer log\n", len(rows))
	return nil
}

// objectKey finds the log's key in the bucket.
func (l *Logger) objectKey() (string, error) {
	out, err := l.s3.ListObjectsV2(&s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list customer log bucket: %v", err)
	}
	if len(out.Contents) == 0 {
		return "", fmt.Errorf("customer log bucket %v is empty", l.bucket)
	}
	return *out.Contents[0].Key, nil
}
