package signal

import "testing"

func TestSuppressEcho(t *testing.T) {
	const own = "+14155550000"

	tests := []struct {
		name  string
		event inboundEvent
		want  bool
	}{
		{name: "direct from other", event: inboundEvent{source: "+14155551111"}, want: false},
		{name: "direct from self", event: inboundEvent{source: own}, want: true},
		{name: "direct sync from self", event: inboundEvent{source: own, selfOriginated: true}, want: true},
		{name: "direct sync with other source", event: inboundEvent{source: "+14155551111", selfOriginated: true}, want: true},
		{name: "group from self", event: inboundEvent{source: own, groupID: "g"}, want: false},
		{name: "group sync from self", event: inboundEvent{source: own, groupID: "g", selfOriginated: true}, want: false},
		{name: "group from other", event: inboundEvent{source: "+14155551111", groupID: "g"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := suppressEcho(tt.event, own); got != tt.want {
				t.Fatalf("suppressEcho = %v, want %v", got, tt.want)
			}
		})
	}
}
