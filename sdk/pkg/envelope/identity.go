package envelope

import (
	"fmt"
	"strings"
	"unicode"
)

// DeviceIdentity 设备身份，由产品标识和设备名唯一确定
type DeviceIdentity struct {
	ProductKey string `json:"productKey"`
	DeviceName string `json:"deviceName"`
}

// IsZero 两个字段都为空
func (d DeviceIdentity) IsZero() bool {
	return d.ProductKey == "" && d.DeviceName == ""
}

// IsComplete 两个字段都不为空
func (d DeviceIdentity) IsComplete() bool {
	return d.ProductKey != "" && d.DeviceName != ""
}

func (d DeviceIdentity) String() string {
	return d.ProductKey + ":" + d.DeviceName
}

// ParseDeviceIdentity 从设备主题中推导身份：
//
//	/sys/{productKey}/{deviceName}/...
//	/ext/{category}/{productKey}/{deviceName}/...
//
// 其它形态的主题返回 false。
func ParseDeviceIdentity(topic string) (DeviceIdentity, bool) {
	levels := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(levels) < 3 {
		return DeviceIdentity{}, false
	}
	var id DeviceIdentity
	switch levels[0] {
	case "sys":
		id = DeviceIdentity{ProductKey: levels[1], DeviceName: levels[2]}
	case "ext":
		if len(levels) < 4 {
			return DeviceIdentity{}, false
		}
		id = DeviceIdentity{ProductKey: levels[2], DeviceName: levels[3]}
	default:
		return DeviceIdentity{}, false
	}
	if ValidateDeviceIdentity(id) != nil || !id.IsComplete() {
		return DeviceIdentity{}, false
	}
	return id, true
}

// ValidateDeviceIdentity 身份要么完全为空，要么两个字段都合法
func ValidateDeviceIdentity(id DeviceIdentity) error {
	if id.IsZero() {
		return nil
	}
	if !id.IsComplete() {
		return fmt.Errorf("%w: incomplete device identity %q", ErrInvalidArgument, id.String())
	}
	for _, v := range []string{id.ProductKey, id.DeviceName} {
		if strings.ContainsAny(v, "/+#") || strings.IndexFunc(v, unicode.IsSpace) >= 0 {
			return fmt.Errorf("%w: illegal character in device identity %q", ErrInvalidArgument, id.String())
		}
	}
	return nil
}
