// Package transporttest provides a field-backed transport.Config for tests.
package transporttest

import "github.com/drblury/cmdflow/transport"

// Config implements transport.Config with plain fields.
type Config struct {
	Transport           string
	KafkaBrokers        []string
	KafkaConsumerGroup  string
	RabbitMQURL         string
	RabbitMQQueueSuffix string
	NATSURL             string
	NATSQueueGroup      string
	HTTPServerAddress   string
	HTTPPublisherURL    string
	AWSRegion           string
	AWSAccountID        string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpoint         string
}

func (c *Config) GetTransport() string           { return c.Transport }
func (c *Config) GetKafkaBrokers() []string      { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string  { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string         { return c.RabbitMQURL }
func (c *Config) GetRabbitMQQueueSuffix() string { return c.RabbitMQQueueSuffix }
func (c *Config) GetNATSURL() string             { return c.NATSURL }
func (c *Config) GetNATSQueueGroup() string      { return c.NATSQueueGroup }
func (c *Config) GetHTTPServerAddress() string   { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string    { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string           { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string        { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string      { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string  { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string         { return c.AWSEndpoint }

var _ transport.Config = (*Config)(nil)
