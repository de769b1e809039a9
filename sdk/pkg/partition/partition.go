package partition

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// Strategy 分区策略
type Strategy string

const (
	// StrategyOrdered 同一设备的消息始终落在同一分区，保证设备内有序
	StrategyOrdered Strategy = "ordered"
	// StrategyParallel 同一设备的消息按消息ID打散，牺牲顺序换吞吐
	StrategyParallel Strategy = "parallel"
)

// KeyGenerator 根据设备身份计算分区号，结果总在 [0, n) 内
type KeyGenerator interface {
	PartitionKey(productKey, deviceName, messageID string) int
	Partitions() int
	Strategy() Strategy
}

// NewKeyGenerator 按策略创建分区键生成器
func NewKeyGenerator(strategy Strategy, partitions int) (KeyGenerator, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partition: partition count must be positive, got %d", partitions)
	}
	switch strategy {
	case StrategyOrdered, "":
		return &orderedGenerator{n: partitions}, nil
	case StrategyParallel:
		return &parallelGenerator{n: partitions}, nil
	default:
		return nil, fmt.Errorf("partition: unknown strategy %q", strategy)
	}
}

type orderedGenerator struct {
	n int
}

func (g *orderedGenerator) PartitionKey(productKey, deviceName, _ string) int {
	if productKey == "" || deviceName == "" {
		return 0
	}
	return Mod(Hash(productKey+":"+deviceName), g.n)
}

func (g *orderedGenerator) Partitions() int    { return g.n }
func (g *orderedGenerator) Strategy() Strategy { return StrategyOrdered }

type parallelGenerator struct {
	n int
}

// PartitionKey 没有消息ID时用随机数打散
func (g *parallelGenerator) PartitionKey(productKey, deviceName, messageID string) int {
	if productKey == "" || deviceName == "" {
		return 0
	}
	var salt int32
	if messageID != "" {
		salt = Hash(messageID)
	} else {
		salt = rand.Int32()
	}
	return Mod(Hash(productKey+":"+deviceName)^salt, g.n)
}

func (g *parallelGenerator) Partitions() int    { return g.n }
func (g *parallelGenerator) Strategy() Strategy { return StrategyParallel }

// Hash FNV-1a 32 位哈希，按有符号整数解释
func Hash(s string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int32(h.Sum32())
}

// Mod 负数修正取模
func Mod(h int32, n int) int {
	m := int(h) % n
	return (m + n) % n
}
