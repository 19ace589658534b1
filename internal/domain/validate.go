package domain

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// ErrInvalidConfig 所有配置校验错误都会包装此哨兵，便于前端识别用户输入错误
var ErrInvalidConfig = errors.New("invalid bot config")

// 支持的协议版本（按库实际支持情况维护，首项为默认版本）
var supportedVersions = map[Edition][]string{
	EditionJava:    {"1.21.4", "1.21.3", "1.21.1", "1.21", "1.20.6"},
	EditionBedrock: {"1.21.93", "1.21.90", "1.21.80", "1.21.70", "1.21.60"},
}

var (
	nameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)
	// DNS label：字母数字开头结尾，中间允许连字符，最长 63
	hostLabelRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	hostRe      = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// SupportedVersions 返回指定协议族的版本白名单
func SupportedVersions(e Edition) []string {
	return supportedVersions[e]
}

// DefaultVersion 返回指定协议族的默认版本（白名单首项）
func DefaultVersion(e Edition) string {
	vs := supportedVersions[e]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// ValidBotName 机器人名称：3-16 位字母数字下划线
func ValidBotName(name string) bool {
	return nameRe.MatchString(name)
}

// ValidHost IPv4 字面量或符合 DNS label 规则的主机名
func ValidHost(host string) bool {
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.To4() != nil
	}
	return len(host) <= 253 && hostRe.MatchString(host)
}

// ValidPort 端口范围 [1, 65535]
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

// ValidVersion 版本是否在协议族白名单内
func ValidVersion(e Edition, version string) bool {
	for _, v := range supportedVersions[e] {
		if v == version {
			return true
		}
	}
	return false
}

// JoinHostPort 等价于 net.JoinHostPort，但接受 int 端口
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ValidateBotConfig 校验一份完整的机器人配置，返回第一个校验错误
func ValidateBotConfig(name, host string, port int, edition Edition, version string) error {
	if !ValidBotName(name) {
		return fmt.Errorf("%w: invalid bot name %q: must be 3-16 chars, letters/digits/underscore", ErrInvalidConfig, name)
	}
	if !ValidHost(host) {
		return fmt.Errorf("%w: invalid server host %q", ErrInvalidConfig, host)
	}
	if !ValidPort(port) {
		return fmt.Errorf("%w: invalid server port %d: must be in [1, 65535]", ErrInvalidConfig, port)
	}
	if !edition.IsValid() {
		return fmt.Errorf("%w: unsupported edition %q", ErrInvalidConfig, edition)
	}
	if version != "" && !ValidVersion(edition, version) {
		return fmt.Errorf("%w: unsupported %s version %q", ErrInvalidConfig, edition, version)
	}
	return nil
}
