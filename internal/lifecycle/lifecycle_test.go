package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusForAction_Table(t *testing.T) {
	cases := map[string]string{
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
	for action, want := range cases {
		require.Equal(t, want, StatusForAction(action), "action=%s", action)
	}
}

func TestStatusForAction_Total(t *testing.T) {
	// Любое действие даёт статус из закрытого словаря, без паник.
	for action := range actionStatus {
		require.True(t, KnownStatus(StatusForAction(action)))
	}
	require.Equal(t, StatusBooked, StatusForAction(""))
	require.Equal(t, StatusBooked, StatusForAction("teleport"))
	require.Equal(t, StatusBooked, StatusForAction("DELIVERY")) // регистр имеет значение
}

func TestNextExpectedAction_Mapping(t *testing.T) {
	cases := map[string]string{
		StatusBooked:           ActionPickup,
		StatusPickupScheduled:  ActionPickup,
		StatusPickedUp:         ActionInbound,
		StatusAtOriginHub:      ActionDeparture,
		StatusBagged:           ActionDeparture,
		StatusLinehaulDeparted: ActionArrival,
		StatusLinehaulArrived:  ActionHandoff,
		StatusAtDestinationHub: ActionHandoff,
		StatusOutForDelivery:   ActionDelivery,
	}
	for status, want := range cases {
		got, ok := NextExpectedAction(status)
		require.True(t, ok, "status=%s", status)
		require.Equal(t, want, got, "status=%s", status)
	}
}

func TestNextExpectedAction_TerminalAndUnknown(t *testing.T) {
	for _, status := range []string{StatusDelivered, StatusException, StatusOnHold, "", "GONE"} {
		got, ok := NextExpectedAction(status)
		require.False(t, ok, "status=%s", status)
		require.Empty(t, got)
	}
}

// Подсказанное действие никогда не ведёт воркфлоу назад.
func TestNextExpectedAction_RoundTripForward(t *testing.T) {
	order := map[string]int{
		StatusBooked:           0,
		StatusPickupScheduled:  0,
		StatusPickedUp:         1,
		StatusAtOriginHub:      2,
		StatusBagged:           2,
		StatusLinehaulDeparted: 3,
		StatusLinehaulArrived:  4,
		StatusAtDestinationHub: 5,
		StatusOutForDelivery:   6,
		StatusDelivered:        7,
	}
	for status, rank := range order {
		action, ok := NextExpectedAction(status)
		if !ok {
			continue
		}
		next := StatusForAction(action)
		require.Greater(t, order[next], rank, "status=%s action=%s next=%s", status, action, next)
	}
}

func TestKnownAction(t *testing.T) {
	require.True(t, KnownAction(ActionPickup))
	require.True(t, KnownAction(ActionManualIntervention))
	require.False(t, KnownAction("refund"))
}
