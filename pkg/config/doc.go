/*
Package config loads the controller's environment-driven configuration.
Variable names resolve case-insensitively against the ambient environment;
all database and orchestrator options are required, DEBUG and METRICS_ADDR
are optional.
*/
package config
