// Package access turns a resolved grant into allow or deny decisions for
// (service, operation) pairs. The operation policy table is closed: all,
// none, allow list, deny list. Anything else denies.
package access
