// Command forumidx-server exposes a previously sealed index (built with
// cmd/forumidx -mode 1) as a read-only HTTP/WebSocket/GraphQL query
// surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mnohosten/forumidx/pkg/server"
)

func main() {
	host := flag.String("host", "localhost", "server host address")
	port := flag.Int("port", 8080, "server port")
	dataDir := flag.String("data-dir", "./data", "working directory of a previously sealed index")
	topK := flag.Int("default-topk", 10, "default top-K when a query omits it")
	maxTopK := flag.Int("max-topk", 1000, "upper bound on top-K a query may request")
	corsOrigin := flag.String("cors-origin", "*", "CORS allowed origin")
	enableTLS := flag.Bool("tls", false, "enable TLS/SSL")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	tlsSelfSigned := flag.Bool("tls-self-signed", false, "generate a self-signed certificate for -host into -data-dir when -tls is set without -tls-cert/-tls-key (development only)")
	enableGraphQL := flag.Bool("graphql", true, "enable the /graphql endpoint and /graphiql playground")
	flag.Parse()

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.DataDir = *dataDir
	config.DefaultTopK = *topK
	config.MaxTopK = *maxTopK
	config.AllowedOrigins = []string{*corsOrigin}
	config.EnableTLS = *enableTLS
	config.TLSCertFile = *tlsCert
	config.TLSKeyFile = *tlsKey
	config.EnableGraphQL = *enableGraphQL

	if *enableTLS && *tlsSelfSigned && *tlsCert == "" && *tlsKey == "" {
		certPath := filepath.Join(*dataDir, "server-cert.pem")
		keyPath := filepath.Join(*dataDir, "server-key.pem")
		if err := server.GenerateSelfSignedCert(certPath, keyPath, *host); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate self-signed certificate: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "generated self-signed certificate for %s in %s\n", *host, *dataDir)
		config.TLSCertFile = certPath
		config.TLSKeyFile = keyPath
	}

	srv, err := server.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open index: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
