package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingBrokerURL = errors.New("config: rabbitmq server url is required when fake tasks are disabled")
	ErrInvalidMQType    = errors.New("config: unknown mq type")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints first, then the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			fe := validationErrs[0]
			return fmt.Errorf("config: invalid %s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if err := c.validateMQ(); err != nil {
		return err
	}

	return nil
}

// validateMQ requires a reachable broker only when real tasks are processed;
// in fake-task mode the consumer is never started.
func (c *Config) validateMQ() error {
	if c.MQ.ToQueueConfig() == nil {
		return ErrInvalidMQType
	}
	if c.FakeTasks || c.MQ.Type != MQTypeRabbitMQ {
		return nil
	}
	if c.MQ.RabbitMQ.ServerURL == "" {
		return ErrMissingBrokerURL
	}
	return nil
}
