package lifecycle

// Закрытый словарь статусов жизненного цикла отправления.
const (
	StatusBooked           = "BOOKED"
	StatusPickupScheduled  = "PICKUP_SCHEDULED"
	StatusPickedUp         = "PICKED_UP"
	StatusAtOriginHub      = "AT_ORIGIN_HUB"
	StatusBagged           = "BAGGED"
	StatusLinehaulDeparted = "LINEHAUL_DEPARTED"
	StatusLinehaulArrived  = "LINEHAUL_ARRIVED"
	StatusAtDestinationHub = "AT_DESTINATION_HUB"
	StatusOutForDelivery   = "OUT_FOR_DELIVERY"
	StatusDelivered        = "DELIVERED"
	StatusException        = "EXCEPTION"
	StatusOnHold           = "ON_HOLD"
)

// Действия сканера. Упрощённый набор старых клиентов — подмножество этих имён
// и трактуется теми же семантиками.
const (
	ActionPickup             = "pickup"
	ActionInbound            = "inbound"
	ActionArrival            = "arrival"
	ActionOutbound           = "outbound"
	ActionDeparture          = "departure"
	ActionHandoff            = "handoff"
	ActionDelivery           = "delivery"
	ActionException          = "exception"
	ActionManualIntervention = "manual_intervention"
)

var actionStatus = map[string]string{
	ActionPickup:             StatusPickedUp,
	ActionInbound:            StatusAtDestinationHub,
	ActionArrival:            StatusLinehaulArrived,
	ActionOutbound:           StatusLinehaulDeparted,
	ActionDeparture:          StatusLinehaulDeparted,
	ActionHandoff:            StatusOutForDelivery,
	ActionDelivery:           StatusDelivered,
	ActionException:          StatusException,
	ActionManualIntervention: StatusException,
}

var knownStatuses = map[string]struct{}{
	StatusBooked:           {},
	StatusPickupScheduled:  {},
	StatusPickedUp:         {},
	StatusAtOriginHub:      {},
	StatusBagged:           {},
	StatusLinehaulDeparted: {},
	StatusLinehaulArrived:  {},
	StatusAtDestinationHub: {},
	StatusOutForDelivery:   {},
	StatusDelivered:        {},
	StatusException:        {},
	StatusOnHold:           {},
}

// StatusForAction тотальна: неизвестное действие даёт безопасный BOOKED,
// чтобы forward-compatible клиенты не роняли запрос целиком.
func StatusForAction(action string) string {
	if st, ok := actionStatus[action]; ok {
		return st
	}
	return StatusBooked
}

func KnownAction(action string) bool {
	_, ok := actionStatus[action]
	return ok
}

func KnownStatus(status string) bool {
	_, ok := knownStatuses[status]
	return ok
}

// NextExpectedAction подсказывает клиенту следующий шаг воркфлоу.
// Терминальные и неизвестные статусы дают ("", false).
func NextExpectedAction(status string) (string, bool) {
	switch status {
	case StatusBooked, StatusPickupScheduled:
		return ActionPickup, true
	case StatusPickedUp:
		return ActionInbound, true
	case StatusAtOriginHub, StatusBagged:
		return ActionDeparture, true
	case StatusLinehaulDeparted:
		return ActionArrival, true
	case StatusLinehaulArrived, StatusAtDestinationHub:
		return ActionHandoff, true
	case StatusOutForDelivery:
		return ActionDelivery, true
	default:
		return "", false
	}
}
