package waclient

// JS evaluated inside the web client. The hook script installs an event
// buffer that the Go side drains on a ticker; everything else is a one-shot
// evaluation.

// webClientURL is the remote messaging network's web client.
const webClientURL = "https://web.whatsapp.com"

// hookScript installs the event bridge. Idempotent across navigations.
const hookScript = `
() => {
	const w = window;
	if (w.__wagateHooked) return true;
	w.__wagateHooked = true;
	w.__wagateEvents = [];

	const push = (type, payload) => {
		try {
			w.__wagateEvents.push({ type, payload, ts: Date.now() });
		} catch (e) {}
	};

	const qrObserver = new MutationObserver(() => {
		const el = document.querySelector('div[data-ref]');
		if (el) {
			const ref = el.getAttribute('data-ref');
			if (ref && ref !== w.__wagateLastQR) {
				w.__wagateLastQR = ref;
				push('qr', ref);
			}
		}
	});
	qrObserver.observe(document.body, { childList: true, subtree: true, attributes: true });

	const bindStore = () => {
		const store = w.Store;
		if (!store || !store.AppState) {
			setTimeout(bindStore, 500);
			return;
		}
		let last = '';
		store.AppState.on('change:state', (_, state) => {
			if (state === last) return;
			last = state;
			push('state', state);
			if (state === 'CONNECTED') push('ready', null);
		});
		store.Msg.on('add', (msg) => {
			if (!msg.isNewMsg || msg.id.fromMe) return;
			push('message', {
				ref: msg.id._serialized,
				chat: msg.from,
				from: msg.author || msg.from,
				body: msg.body || '',
				hasMedia: !!msg.mediaKey,
				mediaSize: msg.size || 0,
				mimeType: msg.mimetype || ''
			});
		});
		store.Msg.on('change:ack', (msg, ack) => {
			push('message_ack', { ref: msg.id._serialized, ack });
		});
		push('authenticated', null);
	};
	bindStore();
	return true;
}
`

// drainScript returns and clears the buffered bridge events.
const drainScript = `
() => {
	const buf = Array.isArray(window.__wagateEvents) ? window.__wagateEvents : [];
	window.__wagateEvents = [];
	return buf;
}
`

// stateScript reports the protocol-level connection state.
const stateScript = `
() => {
	try {
		return (window.Store && window.Store.AppState && window.Store.AppState.state) || 'OPENING';
	} catch (e) {
		return 'OPENING';
	}
}
`

// fetchMediaScript downloads a message's attachment and returns it base64
// encoded together with its mimetype.
const fetchMediaScript = `
async (ref) => {
	const msg = window.Store.Msg.get(ref);
	if (!msg || !msg.mediaKey) return null;
	const blob = await window.Store.DownloadManager.downloadAndDecrypt(msg);
	const b64 = await new Promise((resolve, reject) => {
		const reader = new FileReader();
		reader.onloadend = () => resolve(reader.result.split(',')[1]);
		reader.onerror = reject;
		reader.readAsDataURL(new Blob([blob]));
	});
	return { data: b64, mimeType: msg.mimetype || 'application/octet-stream' };
}
`

// markSeenScript acknowledges all messages in a chat as read.
const markSeenScript = `
async (chatId) => {
	const chat = window.Store.Chat.get(chatId);
	if (!chat) return false;
	await window.Store.SendSeen.sendSeen(chat);
	return true;
}
`

// logoutScript invalidates the linked-device credentials remotely.
const logoutScript = `
async () => {
	if (window.Store && window.Store.AppState && window.Store.AppState.logout) {
		await window.Store.AppState.logout();
		return true;
	}
	return false;
}
`
