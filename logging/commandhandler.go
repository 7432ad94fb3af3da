package logging

import (
	"context"
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/terraskye/eventfold"
)

// WithCommandLogging wraps a CommandHandler with logging functionality.
// It logs the command type and aggregate ID before execution, the outcome
// afterwards, and errors if the command fails.
func WithCommandLogging[C eventfold.Command](logger *logrus.Entry, next eventfold.CommandHandler[C]) eventfold.CommandHandler[C] {
	return func(ctx context.Context, command C) (eventfold.AppendResult, error) {
		cmdType := reflect.TypeOf(command).String()
		l := logger.WithFields(logrus.Fields{
			"command":     cmdType,
			"aggregateID": command.AggregateID(),
		})
		if causation := eventfold.CausationFromContext(ctx); causation != "" {
			l = l.WithField("causationID", causation)
		}
		l.Infof("Dispatch: %s (aggregateID: %s)", cmdType, command.AggregateID())

		result, err := next(ctx, command)
		if err != nil {
			l.Errorf("Dispatch failed: %s (aggregateID: %s): %v", cmdType, command.AggregateID(), err)
			return result, err
		}

		l.WithFields(logrus.Fields{
			"events":  len(result.Envelopes),
			"version": result.NextExpectedVersion,
		}).Debug("Dispatch completed")
		return result, nil
	}
}
