package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"foodflow/internal/delivery/lifecycle"
)

// EventType is the kind of a pushed event.
type EventType string

// Event types delivered over the push channel.
const (
	EventStatusChanged   EventType = "status_changed"
	EventLocationChanged EventType = "location_changed"
	EventRequestCreated  EventType = "cancel_request_created"
	EventRequestResolved EventType = "cancel_request_resolved"
	// EventResync is produced locally after the push channel reconnects;
	// events may have been missed so the view should refetch.
	EventResync EventType = "resync"
)

// Event is a push notification about an order.
type Event struct {
	ID         string           `json:"id"`
	Type       EventType        `json:"type"`
	OrderID    int64            `json:"order_id,omitempty"`
	RequestID  int64            `json:"request_id,omitempty"`
	ShipperID  *int64           `json:"shipper_id,omitempty"`
	Status     lifecycle.Status `json:"status,omitempty"`
	StatusText string           `json:"status_text,omitempty"`
	Lat        float64          `json:"lat,omitempty"`
	Lng        float64          `json:"lng,omitempty"`
	At         time.Time        `json:"at"`
}

// Topic is a push subscription key.
type Topic string

// OrderTopic is the topic carrying events about one order.
func OrderTopic(orderID int64) Topic {
	return Topic("order:" + strconv.FormatInt(orderID, 10))
}

// ActorTopic is the topic carrying events for one actor of a role.
func ActorTopic(role Role, actorID int64) Topic {
	return Topic(fmt.Sprintf("actor:%s:%d", role, actorID))
}

// RoleTopic is the topic shared by every actor of a role.
func RoleTopic(role Role) Topic {
	return Topic("role:" + string(role))
}

// ParseTopic validates a topic string.
func ParseTopic(raw string) (Topic, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	switch {
	case len(parts) == 2 && parts[0] == "order":
		if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
			return "", fmt.Errorf("invalid order topic %q", raw)
		}
	case len(parts) == 2 && parts[0] == "role":
		if !Role(parts[1]).Valid() {
			return "", fmt.Errorf("invalid role topic %q", raw)
		}
	case len(parts) == 3 && parts[0] == "actor":
		if !Role(parts[1]).Valid() {
			return "", fmt.Errorf("invalid actor topic %q", raw)
		}
		if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
			return "", fmt.Errorf("invalid actor topic %q", raw)
		}
	default:
		return "", fmt.Errorf("invalid topic %q", raw)
	}
	return Topic(strings.Join(parts, ":")), nil
}

// DefaultTopics returns the topics a role-view subscribes to on start.
func DefaultTopics(role Role, actorID int64) []Topic {
	switch role {
	case RoleShipper:
		return []Topic{RoleTopic(RoleShipper), ActorTopic(RoleShipper, actorID)}
	case RoleAdmin:
		return []Topic{RoleTopic(RoleAdmin)}
	default:
		return []Topic{ActorTopic(role, actorID)}
	}
}

// StatusTopics returns every topic a status change of o must reach.
// Shippers see pre-delivery and canceled orders on the shared shipper topic so
// that "available" lists can pick up new work and drop claimed or canceled
// orders.
func StatusTopics(o Order) []Topic {
	topics := []Topic{
		OrderTopic(o.ID),
		ActorTopic(RoleCustomer, o.CustomerID),
		ActorTopic(RoleMerchant, o.RestaurantID),
	}
	if o.ShipperID != nil {
		topics = append(topics, ActorTopic(RoleShipper, *o.ShipperID))
	}
	switch o.Status {
	case lifecycle.StatusPending, lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady, lifecycle.StatusCanceled:
		topics = append(topics, RoleTopic(RoleShipper))
	}
	return topics
}

// RequestTopics returns the topics a cancellation request change must reach.
func RequestTopics(r CancellationRequest) []Topic {
	return []Topic{RoleTopic(RoleAdmin), ActorTopic(RoleCustomer, r.CustomerID)}
}

// LocationTopics returns the topics a shipper position must reach for order o.
func LocationTopics(o Order) []Topic {
	topics := []Topic{OrderTopic(o.ID), ActorTopic(RoleCustomer, o.CustomerID)}
	if o.ShipperID != nil {
		topics = append(topics, ActorTopic(RoleShipper, *o.ShipperID))
	}
	return topics
}

// Subscription commands sent by push clients.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command is a client to server push channel message.
type Command struct {
	Action string `json:"action"`
	Topic  Topic  `json:"topic"`
}
