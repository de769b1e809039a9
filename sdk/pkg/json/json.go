package json

import (
	jsoniter "github.com/json-iterator/go"
)

// JSON 统一的 jsoniter 配置实例
// 与标准库 encoding/json 行为一致，jxt-iot 内所有需要 JSON 的组件都走这里：
// - resilience: 兜底存储记录（步骤结果快照）
// - dispatcher: 示例处理器的负载解码
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONFast 追求性能的配置，浮点数精度等边缘行为与标准库略有差异
var JSONFast = jsoniter.ConfigFastest

// Marshal 序列化对象为 JSON 字节数组
func Marshal(v interface{}) ([]byte, error) {
	return JSON.Marshal(v)
}

// Unmarshal 从 JSON 字节数组反序列化对象
func Unmarshal(data []byte, v interface{}) error {
	return JSON.Unmarshal(data, v)
}

// MarshalToString 将对象序列化为 JSON 字符串，避免一次 []byte -> string 拷贝
func MarshalToString(v interface{}) (string, error) {
	return JSON.MarshalToString(v)
}

// UnmarshalFromString 从 JSON 字符串反序列化对象
func UnmarshalFromString(str string, v interface{}) error {
	return JSON.UnmarshalFromString(str, v)
}

// UnmarshalFast 使用 ConfigFastest 反序列化，适合设备上报这类格式可控的负载
func UnmarshalFast(data []byte, v interface{}) error {
	return JSONFast.Unmarshal(data, v)
}

// Valid 判断字节数组是否为合法 JSON
func Valid(data []byte) bool {
	return JSON.Valid(data)
}

// RawMessage 与标准库 json.RawMessage 兼容
type RawMessage = jsoniter.RawMessage
