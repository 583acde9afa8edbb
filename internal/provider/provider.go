package provider

import "time"

const defaultHTTPTimeout = 120 * time.Second
