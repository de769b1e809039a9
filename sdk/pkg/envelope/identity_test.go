package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDeviceIdentity(t *testing.T) {
	tests := []struct {
		topic string
		want  DeviceIdentity
		ok    bool
	}{
		{"/sys/pk1/dev1/thing/event/property/post", DeviceIdentity{"pk1", "dev1"}, true},
		{"sys/pk1/dev1/thing", DeviceIdentity{"pk1", "dev1"}, true},
		{"/ext/ntp/pk1/dev1/request", DeviceIdentity{"pk1", "dev1"}, true},
		{"/ext/ntp/pk1", DeviceIdentity{}, false},
		{"/sys/pk1", DeviceIdentity{}, false},
		{"/sys//dev1/x", DeviceIdentity{}, false},
		{"/custom/pk1/dev1", DeviceIdentity{}, false},
		{"", DeviceIdentity{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := ParseDeviceIdentity(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateDeviceIdentity(t *testing.T) {
	tests := []struct {
		name    string
		id      DeviceIdentity
		wantErr bool
	}{
		{"空身份合法", DeviceIdentity{}, false},
		{"完整身份", DeviceIdentity{"pk", "dn"}, false},
		{"缺少设备名", DeviceIdentity{ProductKey: "pk"}, true},
		{"缺少产品", DeviceIdentity{DeviceName: "dn"}, true},
		{"包含斜杠", DeviceIdentity{"p/k", "dn"}, true},
		{"包含通配符+", DeviceIdentity{"pk", "d+n"}, true},
		{"包含通配符#", DeviceIdentity{"pk#", "dn"}, true},
		{"包含空白", DeviceIdentity{"pk", "d n"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceIdentity(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
