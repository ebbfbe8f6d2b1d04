// Package discovery finds blind controllers on the local network.
//
// Controllers announce a plain _http._tcp service, so the browse is
// deliberately broad: every HTTP service on the LAN is a candidate until
// its /info document proves it is a controller. Verified devices land in
// the registry; everything else is ignored. A periodic sweep re-verifies
// known devices and restarts the browser so devices that renamed
// themselves or changed address converge without user action.
package discovery
