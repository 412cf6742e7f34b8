// Package discovery advertises and browses IPC backbones over mDNS/DNS-SD.
//
// A backbone registers one instance of the _ipc-backbone._tcp service. The
// SRV port is the request endpoint, which is all a client needs to bootstrap
// through SUB_PORT and PUB_PORT. The TXT record repeats the endpoint ports so
// a browser can connect without the extra round trips:
//
//	req=50020
//	pub=50021
//	sub=50022
//	ver=3.5.1
//
// req, pub and sub are required. ver is optional.
//
// Example:
//
//	adv, _ := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
//	_ = adv.Advertise(ctx, &discovery.BackboneInfo{
//		Instance: "lab-1", ReqPort: 50020, PubPort: 50021, SubPort: 50022,
//	})
//	defer adv.Stop()
//
//	br, _ := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
//	found, _ := br.Browse(ctx)
//	for svc := range found {
//		fmt.Println(svc.Instance, svc.Endpoints())
//	}
package discovery
