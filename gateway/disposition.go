// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"github.com/apex/log"

	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/types"
)

// Error conditions reported to devices on link close and delivery rejection
const (
	ConditionBadRequest    = "gateway:bad-request"
	ConditionUnauthorized  = "amqp:unauthorized-access"
	ConditionNotFound      = "amqp:not-found"
	ConditionUnavailable   = "gateway:unavailable"
	ConditionInternalError = "amqp:internal-error"
)

// conditionFor translates an error into the condition reported to the device.
func conditionFor(err error) types.Condition {
	condition := types.Condition{Description: err.Error()}
	switch status := types.ErrorStatus(err); {
	case status == 401 || status == 403:
		condition.Name = ConditionUnauthorized
	case status == 404:
		condition.Name = ConditionNotFound
	case status >= 400 && status < 500:
		condition.Name = ConditionBadRequest
	case status == 503:
		condition.Name = ConditionUnavailable
	default:
		condition.Name = ConditionInternalError
	}
	return condition
}

// closeLinkWithError rejects a link at open time. The remote always sees a
// descriptive condition, never a silent detach.
func closeLinkWithError(ctx log.Interface, link transport.Link, err error) {
	condition := conditionFor(err)
	ctx.WithField("Condition", condition.Name).WithError(err).Warn("Rejecting link")
	link.Close(&condition)
}

// settleUpload records the disposition of an uploaded message and replenishes
// the link credit consumed by it. Client errors reject the delivery so the
// device knows not to retry; everything else releases it for redelivery.
func settleUpload(link transport.ReceiverLink, delivery transport.Delivery, endpoint string, err error) {
	link.Flow(1)
	if err == nil {
		delivery.Accept()
		messagesCounter.WithLabelValues(endpoint, "accepted").Inc()
		return
	}
	if types.IsClientError(err) {
		delivery.Reject(conditionFor(err))
		messagesCounter.WithLabelValues(endpoint, "rejected").Inc()
		return
	}
	delivery.Release()
	messagesCounter.WithLabelValues(endpoint, "released").Inc()
}

// settleCommand maps the device's delivery outcome for a command back to the
// backend subscription. Exactly one unit of credit is replenished afterwards,
// whatever the outcome: this is what keeps the command flow alive.
func settleCommand(cmd backend.CommandContext, outcome transport.Outcome) {
	switch {
	case outcome.Settled && outcome.State == transport.DeliveryAccepted:
		cmd.Accept()
		commandsCounter.WithLabelValues("accepted").Inc()
	case outcome.Settled && outcome.State == transport.DeliveryRejected:
		reason := types.Condition{Name: ConditionBadRequest, Description: "command rejected by device"}
		if outcome.Reason != nil {
			reason = *outcome.Reason
		}
		cmd.Reject(reason)
		commandsCounter.WithLabelValues("rejected").Inc()
	default:
		// Released, or the device never settled: redeliverable elsewhere.
		cmd.Release()
		commandsCounter.WithLabelValues("released").Inc()
	}
	cmd.Flow(1)
}
