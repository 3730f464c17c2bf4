package ws

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	stderrors "errors"

	"github.com/joeshaw/envdecode"
)

// TLSEnv TLS 环境变量，证书均为 base64 编码的 PEM
type TLSEnv struct {
	Cert       string `env:"TLS_CERT"`
	Key        string `env:"TLS_KEY"`
	CA         string `env:"TLS_CA"`
	ServerName string `env:"TLS_SERVER_NAME"`
	// InsecureSkipVerify 跳过服务端证书校验，只用于测试环境
	InsecureSkipVerify bool `env:"TLS_INSECURE_SKIP_VERIFY"`
}

// TLSConfigFromPEM 从 PEM 构建 TLS 配置
// certPEM/keyPEM 同时提供时作为客户端证书；caPEM 非空时替换系统根证书
func TLSConfigFromPEM(certPEM, keyPEM, caPEM []byte) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if len(certPEM) > 0 || len(keyPEM) > 0 {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, ErrInvalidConfig.WithMessage("ws: invalid client certificate").WithError(err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, ErrInvalidConfig.WithMessage("ws: failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// TLSConfigFromEnv 从环境变量加载 TLS 配置
// 未设置任何 TLS_* 变量时返回 nil, nil
func TLSConfigFromEnv() (*tls.Config, error) {
	var env TLSEnv
	if err := envdecode.Decode(&env); err != nil {
		if stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, nil
		}
		return nil, ErrInvalidConfig.WithError(err)
	}
	return env.TLSConfig()
}

// TLSConfig 解码证书并构建 TLS 配置
func (e TLSEnv) TLSConfig() (*tls.Config, error) {
	certPEM, err := decodeBase64("TLS_CERT", e.Cert)
	if err != nil {
		return nil, err
	}
	keyPEM, err := decodeBase64("TLS_KEY", e.Key)
	if err != nil {
		return nil, err
	}
	caPEM, err := decodeBase64("TLS_CA", e.CA)
	if err != nil {
		return nil, err
	}

	cfg, err := TLSConfigFromPEM(certPEM, keyPEM, caPEM)
	if err != nil {
		return nil, err
	}
	cfg.ServerName = e.ServerName
	cfg.InsecureSkipVerify = e.InsecureSkipVerify
	return cfg, nil
}

func decodeBase64(name, v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, ErrInvalidConfig.WithMessage("ws: failed to decode " + name).WithError(err)
	}
	return b, nil
}
