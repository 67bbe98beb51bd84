/*
Package bootstrap creates the application user and marker document after a
fresh initiation. It runs once per fresh set; "user already exists" is
success and every other failure is logged and dropped, because the set
itself is already usable without it.
*/
package bootstrap
